package config

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Document is a desired-state document as written by the operator.
type Document struct {
	// Resources maps a resource key to its definition. The key doubles as the
	// table name when the definition has no name.
	Resources map[string]ResourceConfig `json:"resources" yaml:"resources"`
}

// ResourceConfig is a single table declaration.
type ResourceConfig struct {
	// Name is the table name. Defaults to the resource key.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type selects the backend family (sql_table, rest_table or a legacy alias).
	Type string `json:"type" yaml:"type" validate:"required"`

	// Columns in declaration order.
	Columns []ColumnConfig `json:"columns" yaml:"columns" validate:"required,min=1,dive"`

	// PrimaryKey accepts a single column name or a list.
	PrimaryKey StringList `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`

	// ForeignKeys lists outgoing references.
	ForeignKeys []ForeignKeyConfig `json:"foreign_keys,omitempty" yaml:"foreign_keys,omitempty" validate:"dive"`

	// Connection hints some documents carry next to each table.
	ConnectionHints `yaml:",inline"`
}

// ConnectionHints are per-resource connection fields. They only fill
// settings that are otherwise unset.
type ConnectionHints struct {
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
}

// Empty reports whether no hint is set.
func (h ConnectionHints) Empty() bool {
	return h == ConnectionHints{}
}

// ColumnConfig is a column declaration.
type ColumnConfig struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	Type string `json:"type" yaml:"type" validate:"required"`

	// Nullable defaults to true when omitted.
	Nullable *bool `json:"nullable,omitempty" yaml:"nullable,omitempty"`

	// Default is a scalar passed through as the default expression.
	Default *Scalar `json:"default,omitempty" yaml:"default,omitempty"`

	Modifiers []string `json:"modifiers,omitempty" yaml:"modifiers,omitempty"`
}

// ForeignKeyConfig is a foreign key declaration.
type ForeignKeyConfig struct {
	Columns          StringList `json:"columns" yaml:"columns" validate:"required,min=1"`
	ReferenceTable   string     `json:"reference_table" yaml:"reference_table" validate:"required"`
	ReferenceColumns StringList `json:"reference_columns" yaml:"reference_columns" validate:"required,min=1"`
	OnDelete         string     `json:"on_delete,omitempty" yaml:"on_delete,omitempty"`
	OnUpdate         string     `json:"on_update,omitempty" yaml:"on_update,omitempty"`
}

// StringList is a list of strings that also accepts a bare string.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = StringList{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = StringList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected a string or a list of strings: %w", err)
	}
	*l = list
	return nil
}

// Scalar holds a default value written as a string, number or boolean.
// Value is the text used verbatim in DDL.
type Scalar struct {
	Value string
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: default must be a scalar", node.Line)
	}
	s.Value = node.Value
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		s.Value = x
	case float64:
		s.Value = strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		s.Value = strconv.FormatBool(x)
	default:
		return fmt.Errorf("default must be a scalar, got %s", data)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Scalar) MarshalYAML() (interface{}, error) {
	return s.Value, nil
}

// ValidationError is a document problem with its source position.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	switch {
	case loc != "" && e.Path != "":
		return fmt.Sprintf("%s: %s: %s", loc, e.Path, e.Message)
	case loc != "":
		return fmt.Sprintf("%s: %s", loc, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}
