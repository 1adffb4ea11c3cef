package typedcredential

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pilacorp/go-credential-registry/regerr"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	recordSchemas     map[Protocol]*gojsonschema.Schema
	loadSchemasOnce   sync.Once
	errLoadingSchemas error
)

func loadRecordSchemas() (map[Protocol]*gojsonschema.Schema, error) {
	loadSchemasOnce.Do(func() {
		files := map[Protocol]string{
			ProtocolV1: "schema/record_v1.json",
			ProtocolV2: "schema/record_v2.json",
		}
		schemas := make(map[Protocol]*gojsonschema.Schema, len(files))
		for p, name := range files {
			raw, err := schemaFS.ReadFile(name)
			if err != nil {
				errLoadingSchemas = fmt.Errorf("failed to read %s: %w", name, err)
				return
			}
			s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
			if err != nil {
				errLoadingSchemas = fmt.Errorf("failed to compile %s: %w", name, err)
				return
			}
			schemas[p] = s
		}
		recordSchemas = schemas
	})
	return recordSchemas, errLoadingSchemas
}

// ParseRecordJSON decodes a credential record, validating it against the JSON schema of
// protocol p first.
func ParseRecordJSON(data []byte, p Protocol) (Record, error) {
	schemas, err := loadRecordSchemas()
	if err != nil {
		return Record{}, err
	}
	schema, ok := schemas[p]
	if !ok {
		return Record{}, regerr.Input("unsupported registry protocol %s", p)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Record{}, regerr.Input("invalid record JSON: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Record{}, regerr.Input("record does not match %s schema: %s", p, strings.Join(msgs, "; "))
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, regerr.Input("invalid record JSON: %v", err)
	}
	return r, nil
}
