package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// policySchemaJSON describes a handler_config document.
const policySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "tripwire": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled":  {"type": "boolean"},
        "patterns": {"type": "array", "items": {"type": "string", "minLength": 1}}
      }
    },
    "depth_guard": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"}
      }
    },
    "single_action": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled":      {"type": "boolean"},
        "max_per_turn": {"type": "integer", "minimum": 0}
      }
    },
    "convergence": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled":   {"type": "boolean"},
        "threshold": {"type": "number"}
      }
    }
  }
}`

var (
	policySchemaOnce sync.Once
	policySchema     *jsonschema.Schema
	policySchemaErr  error
)

func compiledPolicySchema() (*jsonschema.Schema, error) {
	policySchemaOnce.Do(func() {
		var schemaObj any
		if err := json.Unmarshal([]byte(policySchemaJSON), &schemaObj); err != nil {
			policySchemaErr = fmt.Errorf("policy schema unmarshal: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("handler_config.json", schemaObj); err != nil {
			policySchemaErr = fmt.Errorf("policy schema compile: %w", err)
			return
		}
		policySchema, policySchemaErr = c.Compile("handler_config.json")
	})
	return policySchema, policySchemaErr
}

// ValidatePolicyJSON checks a handler_config document against the policy
// schema. Out-of-range thresholds are accepted; they are clamped when the
// chain is built.
func ValidatePolicyJSON(raw []byte) error {
	sch, err := compiledPolicySchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("handler_config is not valid JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("handler_config failed validation: %w", err)
	}
	return nil
}
