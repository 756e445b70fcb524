package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// CUEParser parses CUE documents and checks them against the built-in schema.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() (*CUEParser, error) {
	ctx := cuecontext.New()
	sr, err := NewSchemaRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return &CUEParser{ctx: ctx, schemaRegistry: sr}, nil
}

// ParseFile parses a single CUE file. Schema and syntax problems are
// returned as ValidationErrors; err is only set for I/O failures.
func (cp *CUEParser) ParseFile(path string) (*Document, []ValidationError, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, problems := cp.parse(content, path)
	return doc, problems, nil
}

// ParseInline parses CUE content that does not come from a file.
func (cp *CUEParser) ParseInline(content string) (*Document, []ValidationError) {
	return cp.parse([]byte(content), "inline")
}

func (cp *CUEParser) parse(content []byte, filename string) (*Document, []ValidationError) {
	val := cp.ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(err, filename)
	}

	unified := cp.schemaRegistry.Document().Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cp.convertCUEErrors(err, filename)
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, cp.convertCUEErrors(err, filename)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, []ValidationError{{
			File:     filename,
			Message:  fmt.Sprintf("failed to decode document: %v", err),
			Severity: "error",
		}}
	}
	return &doc, nil
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error, filename string) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		msg, args := e.Msg()
		ve := ValidationError{
			File:     filename,
			Path:     strings.Join(e.Path(), "."),
			Message:  fmt.Sprintf(msg, args...),
			Severity: "error",
		}
		if pos := errors.Positions(e); len(pos) > 0 && pos[0].Filename() == filename {
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		validationErrors = append(validationErrors, ve)
	}

	return validationErrors
}
