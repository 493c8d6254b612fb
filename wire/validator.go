package wire

import (
	"bytes"
	_ "embed"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	kiterrors "github.com/c0deZ3R0/go-note-sync/errors"
)

//go:embed schema.json
var schemaJSON []byte

const schemaName = "message.schema.json"

var messageSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(schemaName, bytes.NewReader(schemaJSON)); err != nil {
		panic("wire: add schema resource: " + err.Error())
	}
	schema, err := compiler.Compile(schemaName)
	if err != nil {
		panic("wire: compile schema: " + err.Error())
	}
	return schema
}

// Validate checks a raw frame against the envelope schema without decoding it
// into a typed message. The returned error has kind validation.
func Validate(data []byte) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return kiterrors.NewValidationError(kiterrors.OpReceive, err)
	}
	if err := messageSchema.Validate(instance); err != nil {
		return kiterrors.NewValidationError(kiterrors.OpReceive, err)
	}
	return nil
}
