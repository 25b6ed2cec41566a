package services

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// jsonValidator checks model output against a compiled JSON Schema
type jsonValidator struct {
	schema *gojsonschema.Schema
}

// mustJSONValidator compiles a schema definition; definitions are static so
// a bad one is a programming error
func mustJSONValidator(def map[string]any) *jsonValidator {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def))
	if err != nil {
		panic(fmt.Sprintf("compile json schema: %v", err))
	}
	return &jsonValidator{schema: schema}
}

// Validate returns an error listing every schema violation in raw
func (v *jsonValidator) Validate(raw string) error {
	result, err := v.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	errs := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		errs[i] = desc.String()
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(errs, "; "))
}

// cleanJSON strips markdown code fences and any prose around the outermost object
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// enumOf returns the values of a closed string enum for a schema
func enumOf[T ~string](values []T, nullable bool) []any {
	out := make([]any, 0, len(values)+1)
	for _, v := range values {
		out = append(out, string(v))
	}
	if nullable {
		out = append(out, nil)
	}
	return out
}
