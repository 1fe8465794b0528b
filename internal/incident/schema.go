package incident

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://vanguard.invalid/schemas/"

var stageSchemaFiles = map[Phase]string{
	PhaseGuardrailsPrecheck:  "guardrails_precheck.json",
	PhaseGeneratingOptions:   "generating_options.json",
	PhaseGuardrailsPostcheck: "guardrails_postcheck.json",
	PhaseNegotiating:         "negotiating.json",
}

var (
	schemasOnce sync.Once
	schemas     map[Phase]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[Phase]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			schemasErr = fmt.Errorf("read embedded schemas: %w", err)
			return
		}
		for _, entry := range entries {
			data, err := schemaFS.ReadFile("schemas/" + entry.Name())
			if err != nil {
				schemasErr = fmt.Errorf("read schema %s: %w", entry.Name(), err)
				return
			}
			if err := compiler.AddResource(schemaBaseURL+entry.Name(), bytes.NewReader(data)); err != nil {
				schemasErr = fmt.Errorf("add schema %s: %w", entry.Name(), err)
				return
			}
		}

		compiled := make(map[Phase]*jsonschema.Schema, len(stageSchemaFiles))
		for phase, name := range stageSchemaFiles {
			schema, err := compiler.Compile(schemaBaseURL + name)
			if err != nil {
				schemasErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			compiled[phase] = schema
		}
		schemas = compiled
	})
	return schemas, schemasErr
}

// ValidateStageInput checks the folded context against the input schema of
// the stage that runs in phase. Phases without a schema accept any context.
// A mismatch is reported as a contract violation.
func ValidateStageInput(phase Phase, c Context) error {
	compiled, err := loadSchemas()
	if err != nil {
		return err
	}
	schema, ok := compiled[phase]
	if !ok {
		return nil
	}
	if c.Version != ContextSchemaVersion {
		return ContractViolation("context schema version %d, want %d", c.Version, ContextSchemaVersion)
	}

	raw, err := c.SnapshotJSON()
	if err != nil {
		return fmt.Errorf("snapshot context: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode context snapshot: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return ContractViolation("%s input: %v", phase, err)
	}
	return nil
}
