package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// documentSchema constrains CUE documents before they are decoded.
// YAML documents are checked by the same rules in Go.
const documentSchema = `
#Modifier: "auto_increment" | "unsigned" | "zerofill" | "binary"

#ReferentialAction: =~"(?i)^(cascade|set[ _]null|restrict|no[ _]action|set[ _]default)$"

#Column: {
	name:       string & !=""
	type:       string & !=""
	nullable?:  bool
	default?:   string | number | bool | null
	modifiers?: [...#Modifier]
}

#ForeignKey: {
	columns:           string | [string, ...string]
	reference_table:   string & !=""
	reference_columns: string | [string, ...string]
	on_delete?:        #ReferentialAction
	on_update?:        #ReferentialAction
}

#Resource: {
	name?: string & !=""
	type:  "sql_table" | "rest_table" | "mysql_table" | "postgres_table" | "sqlite_table" | "supabase_table"
	columns: [#Column, ...#Column]
	primary_key?:  string | [...string]
	foreign_keys?: [...#ForeignKey]

	url?:      string
	key?:      string
	host?:     string
	user?:     string
	password?: string
	database?: string
}

#Document: {
	resources: [string]: #Resource
	...
}
`

// SchemaRegistry holds the compiled document schema.
type SchemaRegistry struct {
	document cue.Value
}

// NewSchemaRegistry compiles the built-in schema with ctx.
func NewSchemaRegistry(ctx *cue.Context) (*SchemaRegistry, error) {
	if ctx == nil {
		ctx = cuecontext.New()
	}
	val := ctx.CompileString(documentSchema, cue.Filename("aquaform.schema.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile document schema: %w", err)
	}
	return &SchemaRegistry{document: val.LookupPath(cue.ParsePath("#Document"))}, nil
}

// Document returns the #Document definition.
func (sr *SchemaRegistry) Document() cue.Value {
	return sr.document
}
