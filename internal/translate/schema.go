package translate

import "encoding/json"

// schemaMetaKeys are JSON-Schema metadata keys not accepted by the stricter
// vendor schema validators (Gemini in particular). They are stripped
// recursively from tool parameter schemas.
var schemaMetaKeys = []string{
	"$schema",
	"$id",
	"$ref",
	"default",
	"title",
	"$comment",
	"exclusiveMinimum",
	"exclusiveMaximum",
	"definitions",
	"$defs",
}

// CleanSchema deep-copies a JSON-Schema-shaped object and strips vendor-
// rejected metadata keys. When collapseNullable is set, a type expressed as
// ["string","null"] collapses to type "string" plus nullable true, for
// vendors requiring a single scalar type. The input is never mutated;
// unparseable input is returned as-is.
func CleanSchema(schema json.RawMessage, collapseNullable bool) json.RawMessage {
	if len(schema) == 0 {
		return nil
	}

	var parsed any
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return schema
	}

	cleaned := cleanSchemaValue(parsed, collapseNullable)

	out, err := json.Marshal(cleaned)
	if err != nil {
		return schema
	}
	return out
}

func cleanSchemaValue(value any, collapseNullable bool) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, inner := range v {
			if isSchemaMetaKey(key) {
				continue
			}
			result[key] = cleanSchemaValue(inner, collapseNullable)
		}
		if collapseNullable {
			collapseTypeArray(result)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = cleanSchemaValue(item, collapseNullable)
		}
		return result
	default:
		return v
	}
}

// collapseTypeArray rewrites type: ["string","null"] into the single scalar
// type plus nullable: true.
func collapseTypeArray(schema map[string]any) {
	types, ok := schema["type"].([]any)
	if !ok {
		return
	}

	var scalar string
	nullable := false
	for _, t := range types {
		s, ok := t.(string)
		if !ok {
			continue
		}
		if s == "null" {
			nullable = true
			continue
		}
		if scalar == "" {
			scalar = s
		}
	}

	if scalar != "" {
		schema["type"] = scalar
		if nullable {
			schema["nullable"] = true
		}
	}
}

func isSchemaMetaKey(key string) bool {
	for _, meta := range schemaMetaKeys {
		if key == meta {
			return true
		}
	}
	return false
}
