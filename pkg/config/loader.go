package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPatterns are the document globs used when no file is given.
var DefaultPatterns = []string{"aqua.*.yaml", "aqua.*.yml", "*.aqua.cue"}

// Loader reads desired-state documents into a schema graph.
type Loader struct {
	cue       *CUEParser
	validator *validator.Validate
	lookupEnv func(string) (string, bool)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLookupEnv replaces os.LookupEnv for ${VAR} expansion.
func WithLookupEnv(fn func(string) (string, bool)) LoaderOption {
	return func(l *Loader) {
		l.lookupEnv = fn
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) (*Loader, error) {
	cp, err := NewCUEParser()
	if err != nil {
		return nil, err
	}
	l := &Loader{
		cue:       cp,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Result is a loaded set of documents.
type Result struct {
	// Graph holds every declared table, of every kind.
	Graph *schema.Graph

	// Files are the documents that were read, in load order.
	Files []string

	// Connection is the first set of per-resource connection hints found.
	Connection ConnectionHints
}

// DefaultFiles returns the documents in dir that match DefaultPatterns.
func DefaultFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range DefaultPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// Load reads every file and merges the resources. Any document problem,
// including a table declared twice, yields a *schema.ValidationError.
func (l *Loader) Load(paths ...string) (*Result, error) {
	if len(paths) == 0 {
		return nil, errors.New("no desired-state documents given")
	}

	res := &Result{Graph: schema.NewGraph()}
	origin := make(map[string]string)
	var problems []schema.Problem

	for _, path := range paths {
		doc, docErrs, err := l.parseFile(path)
		if err != nil {
			return nil, err
		}
		res.Files = append(res.Files, path)
		for _, ve := range docErrs {
			problems = append(problems, schema.Problem{Message: ve.String()})
		}
		if doc == nil {
			continue
		}

		doc.expandEnv(l.lookupEnv)
		for _, key := range doc.keys() {
			rc := doc.Resources[key]
			if res.Connection.Empty() && !rc.ConnectionHints.Empty() {
				res.Connection = rc.ConnectionHints
			}

			t, tableProblems := l.toTable(key, rc)
			if len(tableProblems) > 0 {
				problems = append(problems, tableProblems...)
				continue
			}
			if prev, dup := origin[t.Name]; dup {
				problems = append(problems, schema.Problem{
					Resource: t.Name,
					Message:  fmt.Sprintf("declared in both %s and %s", prev, path),
				})
				continue
			}
			origin[t.Name] = path
			_ = res.Graph.Add(t)
		}
	}

	if len(problems) > 0 {
		return nil, &schema.ValidationError{Problems: problems}
	}
	return res, nil
}

func (l *Loader) parseFile(path string) (*Document, []ValidationError, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return l.cue.ParseFile(path)
	case ".yaml", ".yml", ".json":
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		doc, problems := parseYAML(content, path)
		return doc, problems, nil
	default:
		return nil, nil, fmt.Errorf("unsupported document type: %s", path)
	}
}

// parseYAML decodes a YAML (or JSON) document strictly.
func parseYAML(content []byte, filename string) (*Document, []ValidationError) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		ve := ValidationError{File: filename, Message: err.Error(), Severity: "error"}
		var te *yaml.TypeError
		if errors.As(err, &te) && len(te.Errors) > 0 {
			ve.Message = strings.Join(te.Errors, "; ")
		}
		return nil, []ValidationError{ve}
	}
	if doc.Resources == nil {
		return nil, []ValidationError{{
			File:     filename,
			Message:  "document has no resources section",
			Severity: "error",
		}}
	}
	return &doc, nil
}

// toTable converts one resource into a table.
func (l *Loader) toTable(key string, rc ResourceConfig) (*schema.Table, []schema.Problem) {
	name := rc.Name
	if name == "" {
		name = key
	}
	var problems []schema.Problem
	add := func(field, format string, args ...any) {
		problems = append(problems, schema.Problem{Resource: key, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if err := l.validator.Struct(rc); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				add(fe.Namespace(), "failed %q check", fe.Tag())
			}
			return nil, problems
		}
		add("", "%v", err)
		return nil, problems
	}

	kind, err := schema.ParseKind(rc.Type)
	if err != nil {
		add("type", "%v", err)
	}

	t := &schema.Table{
		Name:       name,
		Kind:       kind,
		Columns:    make([]schema.Column, 0, len(rc.Columns)),
		PrimaryKey: slices.Clone([]string(rc.PrimaryKey)),
	}
	for _, cc := range rc.Columns {
		col := schema.Column{Name: cc.Name, Type: cc.Type, Nullable: true}
		if cc.Nullable != nil {
			col.Nullable = *cc.Nullable
		}
		if cc.Default != nil {
			v := cc.Default.Value
			col.Default = &v
		}
		for _, m := range cc.Modifiers {
			mod := schema.Modifier(strings.ToLower(strings.TrimSpace(m)))
			if !slices.Contains(schema.AllModifiers, mod) {
				add("columns."+cc.Name, "unknown modifier %q", m)
				continue
			}
			col.Modifiers = append(col.Modifiers, mod)
		}
		t.Columns = append(t.Columns, col)
	}
	for i, fc := range rc.ForeignKeys {
		fk := schema.ForeignKey{
			Columns:          slices.Clone([]string(fc.Columns)),
			ReferenceTable:   fc.ReferenceTable,
			ReferenceColumns: slices.Clone([]string(fc.ReferenceColumns)),
		}
		if fc.OnDelete != "" {
			if fk.OnDelete, err = schema.ParseReferentialAction(fc.OnDelete); err != nil {
				add(fmt.Sprintf("foreign_keys[%d].on_delete", i), "%v", err)
			}
		}
		if fc.OnUpdate != "" {
			if fk.OnUpdate, err = schema.ParseReferentialAction(fc.OnUpdate); err != nil {
				add(fmt.Sprintf("foreign_keys[%d].on_update", i), "%v", err)
			}
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}

	if len(problems) > 0 {
		return nil, problems
	}
	return t, nil
}

func (d *Document) keys() []string {
	keys := make([]string, 0, len(d.Resources))
	for k := range d.Resources {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expand replaces ${VAR} references. Unset variables are left as written.
func expand(s string, lookup func(string) (string, bool)) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		if v, ok := lookup(ref[2 : len(ref)-1]); ok {
			return v
		}
		return ref
	})
}

// expandEnv expands ${VAR} references in every string value.
func (d *Document) expandEnv(lookup func(string) (string, bool)) {
	for key, rc := range d.Resources {
		rc.Name = expand(rc.Name, lookup)
		rc.Type = expand(rc.Type, lookup)
		for i := range rc.Columns {
			c := &rc.Columns[i]
			c.Name = expand(c.Name, lookup)
			c.Type = expand(c.Type, lookup)
			if c.Default != nil {
				c.Default = &Scalar{Value: expand(c.Default.Value, lookup)}
			}
		}
		for i := range rc.PrimaryKey {
			rc.PrimaryKey[i] = expand(rc.PrimaryKey[i], lookup)
		}
		for i := range rc.ForeignKeys {
			fk := &rc.ForeignKeys[i]
			fk.ReferenceTable = expand(fk.ReferenceTable, lookup)
			fk.OnDelete = expand(fk.OnDelete, lookup)
			fk.OnUpdate = expand(fk.OnUpdate, lookup)
		}
		h := &rc.ConnectionHints
		for _, f := range []*string{&h.URL, &h.Key, &h.Host, &h.User, &h.Password, &h.Database} {
			*f = expand(*f, lookup)
		}
		d.Resources[key] = rc
	}
}
