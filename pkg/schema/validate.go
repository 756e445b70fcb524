package schema

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Problem is a single validation finding.
type Problem struct {
	Resource string `json:"resource,omitempty"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
}

func (p Problem) String() string {
	switch {
	case p.Resource != "" && p.Field != "":
		return fmt.Sprintf("%s.%s: %s", p.Resource, p.Field, p.Message)
	case p.Resource != "":
		return fmt.Sprintf("%s: %s", p.Resource, p.Message)
	default:
		return p.Message
	}
}

// ValidationError reports every problem found in a graph.
type ValidationError struct {
	Problems []Problem `json:"problems"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return fmt.Sprintf("invalid schema (%d problem(s)): %s", len(e.Problems), strings.Join(msgs, "; "))
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateOption tunes Validate.
type ValidateOption func(*validateOptions)

type validateOptions struct {
	allowedModifiers []Modifier
	restrict         bool
}

// WithAllowedModifiers rejects modifiers outside allowed.
func WithAllowedModifiers(allowed ...Modifier) ValidateOption {
	return func(o *validateOptions) {
		o.allowedModifiers = allowed
		o.restrict = true
	}
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every table and every cross-table reference. All problems
// are collected; the returned error is a *ValidationError or nil.
func Validate(g *Graph, opts ...ValidateOption) error {
	var o validateOptions
	for _, opt := range opts {
		opt(&o)
	}

	var problems []Problem
	for _, name := range g.Names() {
		t := g.Tables[name]
		problems = append(problems, validateTable(name, t, &o)...)
	}
	// Reference checks need every table to be individually sane first.
	if len(problems) == 0 {
		for _, name := range g.Names() {
			problems = append(problems, validateReferences(g, g.Tables[name])...)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validateTable(key string, t *Table, o *validateOptions) []Problem {
	var problems []Problem
	if t.Name != key {
		problems = append(problems, Problem{Resource: key, Field: "name",
			Message: fmt.Sprintf("name %q does not match resource key", t.Name)})
	}

	if err := structValidator.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, Problem{
					Resource: key,
					Field:    strings.TrimPrefix(fe.Namespace(), "Table."),
					Message:  describeTag(fe),
				})
			}
		} else {
			problems = append(problems, Problem{Resource: key, Message: err.Error()})
		}
	}

	seen := make(map[string]bool, len(t.Columns))
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.Name != "" && seen[col.Name] {
			problems = append(problems, Problem{Resource: key, Field: "columns",
				Message: fmt.Sprintf("duplicate column %q", col.Name)})
		}
		seen[col.Name] = true

		if o.restrict {
			for _, m := range col.Modifiers {
				if !slices.Contains(o.allowedModifiers, m) {
					problems = append(problems, Problem{Resource: key, Field: "columns." + col.Name,
						Message: fmt.Sprintf("modifier %q is not supported by this backend", m)})
				}
			}
		}
	}

	for _, pk := range t.PrimaryKey {
		if _, ok := t.Column(pk); !ok {
			problems = append(problems, Problem{Resource: key, Field: "primary_key",
				Message: fmt.Sprintf("primary key column %q is not declared", pk)})
		}
	}

	for i := range t.ForeignKeys {
		fk := &t.ForeignKeys[i]
		if len(fk.Columns) != len(fk.ReferenceColumns) {
			problems = append(problems, Problem{Resource: key, Field: "foreign_keys",
				Message: fmt.Sprintf("foreign key %s has %d local and %d referenced columns",
					fk.Identity(), len(fk.Columns), len(fk.ReferenceColumns))})
		}
		for _, c := range fk.Columns {
			if _, ok := t.Column(c); !ok {
				problems = append(problems, Problem{Resource: key, Field: "foreign_keys",
					Message: fmt.Sprintf("foreign key column %q is not declared", c)})
			}
		}
	}
	return problems
}

// validateReferences checks that every foreign key points at a declared table
// and column of a compatible type.
func validateReferences(g *Graph, t *Table) []Problem {
	var problems []Problem
	for i := range t.ForeignKeys {
		fk := &t.ForeignKeys[i]
		ref, ok := g.Get(fk.ReferenceTable)
		if !ok {
			problems = append(problems, Problem{Resource: t.Name, Field: "foreign_keys",
				Message: fmt.Sprintf("references undeclared table %q", fk.ReferenceTable)})
			continue
		}
		for j, rc := range fk.ReferenceColumns {
			refCol, ok := ref.Column(rc)
			if !ok {
				problems = append(problems, Problem{Resource: t.Name, Field: "foreign_keys",
					Message: fmt.Sprintf("references undeclared column %s.%s", ref.Name, rc)})
				continue
			}
			localCol, _ := t.Column(fk.Columns[j])
			if !CompatibleTypes(localCol.Type, refCol.Type) {
				problems = append(problems, Problem{Resource: t.Name, Field: "foreign_keys",
					Message: fmt.Sprintf("column %s (%s) is incompatible with %s.%s (%s)",
						localCol.Name, localCol.Type, ref.Name, refCol.Name, refCol.Type)})
			}
		}
	}
	return problems
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("needs at least %s entries", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
