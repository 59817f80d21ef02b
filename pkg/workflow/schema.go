package workflow

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/superninja/pkg/failure"
)

var stepsSchema = gojsonschema.NewStringLoader(`{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"additionalProperties": false,
		"required": ["name", "agent", "task"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"agent": {"type": "string", "minLength": 1},
			"task": {"type": "string", "minLength": 1},
			"passResults": {"type": "boolean"}
		}
	}
}`)

// ParseSteps decodes a JSON array of step definitions after validating it
// against the step schema.
func ParseSteps(data []byte) ([]Step, error) {
	result, err := gojsonschema.Validate(stepsSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, failure.Wrap(failure.KindValidation, err, "malformed workflow definition")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, failure.Validation("invalid workflow definition: %s", strings.Join(msgs, "; "))
	}

	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, failure.Wrap(failure.KindValidation, err, "malformed workflow definition")
	}
	return steps, nil
}
