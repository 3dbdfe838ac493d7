package channel

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Request and tool-argument schemas. Tool schemas double as the inputSchema
// advertised by tools/list.
var (
	chatSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question":      map[string]any{"type": "string"},
			"interviewType": map[string]any{"type": "string"},
		},
		"required": []any{"question"},
	}

	askSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question":      map[string]any{"type": "string", "minLength": 1},
			"enhanced":      map[string]any{"type": "boolean", "default": true},
			"interviewType": map[string]any{"type": "string"},
		},
		"required": []any{"question"},
	}

	queryToolSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{
				"type":        "string",
				"description": "The question to ask about the professional background",
			},
			"interviewType": map[string]any{
				"type":        "string",
				"description": "Optional interview style: technical, behavioral, screening, hiring_manager or executive",
			},
		},
		"required": []any{"question"},
	}

	searchToolSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query text",
			},
			"topK": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"maximum":     20,
				"default":     3,
				"description": "Number of results to return (default: 3)",
			},
		},
		"required": []any{"query"},
	}

	sectionsToolSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sections": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "string",
					"enum": []any{"skills", "experience", "education", "projects", "all"},
				},
				"description": "Which profile sections to retrieve",
			},
		},
		"required": []any{"sections"},
	}
)

// validate checks a raw JSON document against schema.
func validate(schema map[string]any, doc []byte) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("data validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
