package rest

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/aquaform/aquaform/pkg/schema"
)

// openAPIDocument is the subset of the PostgREST root document used to read
// tables back.
type openAPIDocument struct {
	Definitions map[string]openAPIDefinition `json:"definitions"`
}

type openAPIDefinition struct {
	Required   []string                   `json:"required"`
	Properties map[string]openAPIProperty `json:"properties"`
}

type openAPIProperty struct {
	Type        string `json:"type"`
	Format      string `json:"format"`
	Description string `json:"description"`
	Default     any    `json:"default"`
}

var (
	pkNote = regexp.MustCompile(`<pk/>`)
	fkNote = regexp.MustCompile(`<fk table='([^']+)' column='([^']+)'/>`)
)

// table converts the named definition into a table. Property order in the
// document is not meaningful, so columns are sorted by name.
func (d *openAPIDocument) table(name string) (*schema.Table, bool) {
	def, ok := d.Definitions[name]
	if !ok {
		return nil, false
	}

	names := make([]string, 0, len(def.Properties))
	for col := range def.Properties {
		names = append(names, col)
	}
	slices.Sort(names)

	t := &schema.Table{Name: name, Kind: schema.KindRESTTable}
	for _, col := range names {
		prop := def.Properties[col]
		c := schema.Column{
			Name:     col,
			Type:     prop.columnType(),
			Nullable: !slices.Contains(def.Required, col),
		}
		if prop.Default != nil {
			v := fmt.Sprint(prop.Default)
			c.Default = &v
		}
		t.Columns = append(t.Columns, c)

		if pkNote.MatchString(prop.Description) {
			t.PrimaryKey = append(t.PrimaryKey, col)
		}
		for _, m := range fkNote.FindAllStringSubmatch(prop.Description, -1) {
			t.ForeignKeys = append(t.ForeignKeys, schema.ForeignKey{
				Columns:          []string{col},
				ReferenceTable:   m[1],
				ReferenceColumns: []string{m[2]},
			})
		}
	}
	return t, true
}

// columnType prefers the SQL type PostgREST puts in format.
func (p openAPIProperty) columnType() string {
	if p.Format != "" {
		return p.Format
	}
	return p.Type
}
