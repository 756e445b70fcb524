package schema

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// Kind identifies which backend family manages a table.
type Kind string

const (
	// KindSQLTable is a table reached over a direct SQL connection.
	KindSQLTable Kind = "sql_table"

	// KindRESTTable is a table managed through a hosted REST table API.
	KindRESTTable Kind = "rest_table"
)

// ParseKind converts a document type string into a Kind.
// The legacy names mysql_table and supabase_table are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sql_table", "mysql_table", "postgres_table", "sqlite_table":
		return KindSQLTable, nil
	case "rest_table", "supabase_table":
		return KindRESTTable, nil
	default:
		return "", fmt.Errorf("unknown resource type: %q", s)
	}
}

// Validate checks if the kind is valid.
func (k Kind) Validate() error {
	switch k {
	case KindSQLTable, KindRESTTable:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// Modifier is a column attribute outside the declared type.
type Modifier string

const (
	ModifierAutoIncrement Modifier = "auto_increment"
	ModifierUnsigned      Modifier = "unsigned"
	ModifierZerofill      Modifier = "zerofill"
	ModifierBinary        Modifier = "binary"
)

// AllModifiers lists every modifier the model knows about.
var AllModifiers = []Modifier{ModifierAutoIncrement, ModifierBinary, ModifierUnsigned, ModifierZerofill}

// ReferentialAction is the ON DELETE / ON UPDATE behaviour of a foreign key.
type ReferentialAction string

const (
	ActionCascade    ReferentialAction = "CASCADE"
	ActionSetNull    ReferentialAction = "SET NULL"
	ActionRestrict   ReferentialAction = "RESTRICT"
	ActionNoAction   ReferentialAction = "NO ACTION"
	ActionSetDefault ReferentialAction = "SET DEFAULT"
)

// ParseReferentialAction normalises user input such as "set_null" or "no action".
// An empty string yields NO ACTION.
func ParseReferentialAction(s string) (ReferentialAction, error) {
	norm := strings.ToUpper(strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " "))
	switch ReferentialAction(norm) {
	case "":
		return ActionNoAction, nil
	case ActionCascade, ActionSetNull, ActionRestrict, ActionNoAction, ActionSetDefault:
		return ReferentialAction(norm), nil
	default:
		return "", fmt.Errorf("unknown referential action: %q", s)
	}
}

// orDefault maps the zero value to NO ACTION.
func (a ReferentialAction) orDefault() ReferentialAction {
	if a == "" {
		return ActionNoAction
	}
	return a
}

// Column is a single column definition.
type Column struct {
	// Name is unique within the table.
	Name string `json:"name" validate:"required"`

	// Type is the dialect-specific type, passed through verbatim.
	Type string `json:"type" validate:"required"`

	// Nullable allows NULL values.
	Nullable bool `json:"nullable"`

	// Default is an optional default expression.
	Default *string `json:"default,omitempty"`

	// Modifiers are extra attributes such as auto_increment.
	Modifiers []Modifier `json:"modifiers,omitempty" validate:"dive,oneof=auto_increment unsigned zerofill binary"`
}

// HasModifier reports whether the column carries m.
func (c *Column) HasModifier(m Modifier) bool {
	return slices.Contains(c.Modifiers, m)
}

// Equal reports structural equality. Modifiers compare as sets.
func (c *Column) Equal(o *Column) bool {
	if c.Name != o.Name || c.Type != o.Type || c.Nullable != o.Nullable {
		return false
	}
	if (c.Default == nil) != (o.Default == nil) {
		return false
	}
	if c.Default != nil && *c.Default != *o.Default {
		return false
	}
	return slices.Equal(sortedModifiers(c.Modifiers), sortedModifiers(o.Modifiers))
}

func sortedModifiers(ms []Modifier) []Modifier {
	out := slices.Clone(ms)
	slices.Sort(out)
	return slices.Compact(out)
}

// ForeignKey references columns of another (or the same) table.
type ForeignKey struct {
	Columns          []string          `json:"columns" validate:"required,min=1,dive,required"`
	ReferenceTable   string            `json:"reference_table" validate:"required"`
	ReferenceColumns []string          `json:"reference_columns" validate:"required,min=1,dive,required"`
	OnDelete         ReferentialAction `json:"on_delete,omitempty" validate:"omitempty,oneof='CASCADE' 'SET NULL' 'RESTRICT' 'NO ACTION' 'SET DEFAULT'"`
	OnUpdate         ReferentialAction `json:"on_update,omitempty" validate:"omitempty,oneof='CASCADE' 'SET NULL' 'RESTRICT' 'NO ACTION' 'SET DEFAULT'"`
}

// Identity is the diff key of a foreign key: local columns, referenced table
// and referenced columns. Referential actions are not part of it.
func (fk *ForeignKey) Identity() string {
	return fmt.Sprintf("(%s)->%s(%s)",
		strings.Join(fk.Columns, ","), fk.ReferenceTable, strings.Join(fk.ReferenceColumns, ","))
}

// DeleteAction returns OnDelete, defaulting to NO ACTION.
func (fk *ForeignKey) DeleteAction() ReferentialAction { return fk.OnDelete.orDefault() }

// UpdateAction returns OnUpdate, defaulting to NO ACTION.
func (fk *ForeignKey) UpdateAction() ReferentialAction { return fk.OnUpdate.orDefault() }

// Equal compares identity and referential actions.
func (fk *ForeignKey) Equal(o *ForeignKey) bool {
	return fk.Identity() == o.Identity() &&
		fk.DeleteAction() == o.DeleteAction() &&
		fk.UpdateAction() == o.UpdateAction()
}

// SelfReferencing reports whether the key points back at its own table.
func (fk *ForeignKey) SelfReferencing(table string) bool {
	return fk.ReferenceTable == table
}

// maxIdentifierLength is the PostgreSQL limit; MySQL allows 64.
const maxIdentifierLength = 63

// ConstraintName returns the constraint name used for the key on table.
func (fk *ForeignKey) ConstraintName(table string) string {
	name := table + "_" + strings.Join(fk.Columns, "_") + "_" + fk.ReferenceTable + "_fkey"
	if len(name) <= maxIdentifierLength {
		return name
	}
	sum := sha1.Sum([]byte(name))
	suffix := "_" + hex.EncodeToString(sum[:4]) + "_fkey"
	return name[:maxIdentifierLength-len(suffix)] + suffix
}

// Table is a declared resource.
type Table struct {
	// Name identifies the table and is its node identity in the graph.
	Name string `json:"name" validate:"required"`

	// Kind selects the backend family.
	Kind Kind `json:"kind" validate:"required,oneof=sql_table rest_table"`

	// Columns in declaration order.
	Columns []Column `json:"columns" validate:"required,min=1,dive"`

	// PrimaryKey lists the primary key columns in order.
	PrimaryKey []string `json:"primary_key,omitempty" validate:"dive,required"`

	// ForeignKeys lists outgoing references.
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty" validate:"dive"`
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// ForeignKeyByIdentity returns the key with the given identity.
func (t *Table) ForeignKeyByIdentity(identity string) (*ForeignKey, bool) {
	for i := range t.ForeignKeys {
		if t.ForeignKeys[i].Identity() == identity {
			return &t.ForeignKeys[i], true
		}
	}
	return nil, false
}

// References returns the distinct tables this table points at, sorted.
func (t *Table) References() []string {
	refs := make([]string, 0, len(t.ForeignKeys))
	for i := range t.ForeignKeys {
		refs = append(refs, t.ForeignKeys[i].ReferenceTable)
	}
	slices.Sort(refs)
	return slices.Compact(refs)
}

// SamePrimaryKey reports whether both tables declare the same ordered key.
func (t *Table) SamePrimaryKey(o *Table) bool {
	return slices.Equal(t.PrimaryKey, o.PrimaryKey)
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	c := &Table{
		Name:       t.Name,
		Kind:       t.Kind,
		Columns:    make([]Column, len(t.Columns)),
		PrimaryKey: slices.Clone(t.PrimaryKey),
	}
	for i := range t.Columns {
		c.Columns[i] = t.Columns[i].clone()
	}
	if len(t.ForeignKeys) > 0 {
		c.ForeignKeys = make([]ForeignKey, len(t.ForeignKeys))
		for i := range t.ForeignKeys {
			c.ForeignKeys[i] = t.ForeignKeys[i].clone()
		}
	}
	return c
}

func (c Column) clone() Column {
	out := c
	if c.Default != nil {
		d := *c.Default
		out.Default = &d
	}
	out.Modifiers = slices.Clone(c.Modifiers)
	return out
}

func (fk ForeignKey) clone() ForeignKey {
	out := fk
	out.Columns = slices.Clone(fk.Columns)
	out.ReferenceColumns = slices.Clone(fk.ReferenceColumns)
	return out
}

// typeAliases folds spellings that name the same storage type, so that a
// SERIAL key can be referenced by an INTEGER column.
var typeAliases = map[string]string{
	"int":         "integer",
	"int4":        "integer",
	"serial":      "integer",
	"serial4":     "integer",
	"int8":        "bigint",
	"bigserial":   "bigint",
	"serial8":     "bigint",
	"int2":        "smallint",
	"smallserial": "smallint",
	"serial2":     "smallint",
	"bool":        "boolean",
}

// CanonicalType lower-cases a type and folds whitespace and known aliases.
func CanonicalType(t string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(t), " "))
	if alias, ok := typeAliases[norm]; ok {
		return alias
	}
	return norm
}

// CompatibleTypes reports whether a referencing column of type a may point at
// a referenced column of type b.
func CompatibleTypes(a, b string) bool {
	return CanonicalType(a) == CanonicalType(b)
}
