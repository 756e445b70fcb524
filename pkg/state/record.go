package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/google/uuid"
)

// CurrentVersion is the state file format version.
const CurrentVersion = 1

// ResourceState is the recorded form of one applied table.
type ResourceState struct {
	// Table is the definition as last applied.
	Table *schema.Table `json:"table"`

	// LiveName is the backend's name for the table, when it reports one
	// (for example a schema-qualified name).
	LiveName string `json:"live_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is the persisted snapshot of what was last applied.
type Record struct {
	Version int `json:"version"`

	// Lineage identifies one state file across its lifetime.
	Lineage string `json:"lineage"`

	// Serial increases with every persisted change.
	Serial int64 `json:"serial"`

	// Backend is the command family owning this state.
	Backend schema.Kind `json:"backend,omitempty"`

	Resources map[string]*ResourceState `json:"resources"`

	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// NewRecord returns an empty record with a fresh lineage.
func NewRecord(kind schema.Kind) *Record {
	return &Record{
		Version:   CurrentVersion,
		Lineage:   uuid.New().String(),
		Backend:   kind,
		Resources: make(map[string]*ResourceState),
	}
}

// Get returns the recorded state for name.
func (r *Record) Get(name string) (*ResourceState, bool) {
	rs, ok := r.Resources[name]
	return rs, ok
}

// Names returns the recorded resource names, sorted.
func (r *Record) Names() []string {
	names := make([]string, 0, len(r.Resources))
	for name := range r.Resources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Graph builds a schema graph from the recorded tables. Tables are copied.
func (r *Record) Graph() *schema.Graph {
	g := schema.NewGraph()
	for name, rs := range r.Resources {
		if rs == nil || rs.Table == nil {
			continue
		}
		g.Tables[name] = rs.Table.Clone()
	}
	return g
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := &Record{
		Version:   r.Version,
		Lineage:   r.Lineage,
		Serial:    r.Serial,
		Backend:   r.Backend,
		Resources: make(map[string]*ResourceState, len(r.Resources)),
	}
	if r.LastUpdated != nil {
		t := *r.LastUpdated
		out.LastUpdated = &t
	}
	for name, rs := range r.Resources {
		if rs == nil {
			continue
		}
		cp := *rs
		cp.Table = rs.Table.Clone()
		out.Resources[name] = &cp
	}
	return out
}

// Fingerprint identifies the record's content. Any persisted change alters it
// because the serial is part of the hash.
func (r *Record) Fingerprint() string {
	payload := struct {
		Lineage   string                    `json:"lineage"`
		Serial    int64                     `json:"serial"`
		Resources map[string]*ResourceState `json:"resources"`
	}{r.Lineage, r.Serial, r.Resources}

	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("state: marshal record: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// validate checks a record read from disk.
func (r *Record) validate() error {
	if r.Version == 0 {
		r.Version = CurrentVersion
	}
	if r.Version > CurrentVersion {
		return fmt.Errorf("state version %d is newer than supported version %d", r.Version, CurrentVersion)
	}
	if r.Resources == nil {
		r.Resources = make(map[string]*ResourceState)
	}
	for name, rs := range r.Resources {
		if rs == nil || rs.Table == nil {
			return fmt.Errorf("state resource %q has no table definition", name)
		}
		if rs.Table.Name != name {
			return fmt.Errorf("state resource %q records table %q", name, rs.Table.Name)
		}
	}
	return nil
}
