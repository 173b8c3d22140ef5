package analyzer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"meeting-insights-go/internal/failure"
)

// analysisSchema describes the model's answer. Only meetingSummary is mandatory; the lists
// may be omitted and come back empty.
const analysisSchema = `{
  "type": "object",
  "required": ["meetingSummary"],
  "properties": {
    "meetingSummary":     {"type": "string"},
    "identifiedSpeakers": {"type": "array", "items": {"type": "string"}},
    "discussionPoints":   {"type": "array", "items": {"type": "string"}},
    "actionItems": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["task"],
        "properties": {
          "task":       {"type": "string"},
          "assignedTo": {"type": ["string", "null"]},
          "dueDate":    {"type": ["string", "null"]}
        }
      }
    },
    "nextSteps":     {"type": "array", "items": {"type": "string"}},
    "decisionsMade": {"type": "array", "items": {"type": "string"}},
    "questionsRaised": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["question"],
        "properties": {
          "question": {"type": "string"},
          "askedBy":  {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var compiledSchema = mustSchema(analysisSchema)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("analysis schema: %v", err))
	}
	return s
}

// validateAnalysis checks raw against the analysis schema.
func validateAnalysis(raw []byte) error {
	const op = "analyzer.validate"

	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return failure.Schema(op, errors.Join(failure.ErrInvalidResponse, err),
			fmt.Sprintf("model returned invalid JSON: %v", err))
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return failure.Schema(op, failure.ErrInvalidResponse,
			"analysis does not match schema: "+strings.Join(msgs, "; "))
	}
	return nil
}
