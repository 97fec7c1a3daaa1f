// Package schema wraps per-collection JSON-Schema validation on top of
// github.com/xeipuuv/gojsonschema, grounded on
// bundoc/collection.go SetSchema/validate pair: compile once at
// definition time, validate a document map on every insert/update.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/petitan/ironbase/internal/ironerr"
)

// Validator is a compiled JSON-Schema bound to one collection.
type Validator struct {
	raw    string
	schema *gojsonschema.Schema
}

// Compile parses and compiles a JSON-Schema document. An empty string
// disables validation entirely (Validate always succeeds).
func Compile(schemaJSON string) (*Validator, error) {
	if schemaJSON == "" {
		return &Validator{}, nil
	}
	loader := gojsonschema.NewStringLoader(schemaJSON)
	s, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.CodeSchemaViolation, fmt.Errorf("schema: invalid JSON schema: %w", err))
	}
	return &Validator{raw: schemaJSON, schema: s}, nil
}

// Raw returns the schema's original JSON text, or "" if none is set.
func (v *Validator) Raw() string {
	return v.raw
}

// Validate checks doc against the compiled schema, returning a
// CodeSchemaViolation error describing every failed assertion.
func (v *Validator) Validate(doc map[string]interface{}) error {
	if v.schema == nil {
		return nil
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return ironerr.Wrap(ironerr.CodeSerializationError, err)
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(encoded))
	if err != nil {
		return ironerr.Wrap(ironerr.CodeSchemaViolation, err)
	}
	if result.Valid() {
		return nil
	}

	msg := "document fails schema validation:"
	for _, e := range result.Errors() {
		msg += " " + e.String() + ";"
	}
	return ironerr.Wrap(ironerr.CodeSchemaViolation, fmt.Errorf("%s", msg))
}
