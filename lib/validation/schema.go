package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// TrendReportSchema is the JSON schema every exported trend report must satisfy.
var TrendReportSchema = `{
	"type": "object",
	"properties": {
		"generated_at": {"type": "string", "minLength": 1},
		"window_start": {"type": "string", "minLength": 1},
		"window_end": {"type": "string", "minLength": 1},
		"days": {"type": "integer", "minimum": 1},
		"min_change_percent": {"type": "number", "minimum": 0},
		"skipped_observations": {"type": "integer", "minimum": 0},
		"digest": {"type": "string"},
		"summary": {
			"oneOf": [
				{"type": "null"},
				{
					"type": "object",
					"properties": {
						"total_trends": {"type": "integer", "minimum": 1},
						"rising_count": {"type": "integer", "minimum": 0},
						"declining_count": {"type": "integer", "minimum": 0},
						"avg_change_percent": {"type": "number"},
						"biggest_gainer": {"$ref": "#/definitions/trend"},
						"biggest_loser": {"$ref": "#/definitions/trend"}
					},
					"required": ["total_trends", "rising_count", "declining_count", "avg_change_percent", "biggest_gainer", "biggest_loser"]
				}
			]
		},
		"trends": {
			"type": "array",
			"items": {"$ref": "#/definitions/trend"}
		}
	},
	"required": ["generated_at", "window_start", "window_end", "days", "min_change_percent", "summary", "trends"],
	"additionalProperties": false,
	"definitions": {
		"trend": {
			"type": "object",
			"properties": {
				"content_id": {"type": "integer", "minimum": 1},
				"media_type": {"type": "string", "enum": ["movie", "tv"]},
				"title": {"type": "string"},
				"trend_type": {"type": "string", "enum": ["Rising", "Surging", "Declining", "Crashing"]},
				"change_percent": {"type": "number"},
				"first_popularity": {"type": "number", "minimum": 0},
				"last_popularity": {"type": "number", "minimum": 0},
				"sample_count": {"type": "integer", "minimum": 2},
				"first_observed_at": {"type": "string"},
				"last_observed_at": {"type": "string"},
				"new_entrant": {"type": "boolean"},
				"ambiguous_identity": {"type": "boolean"},
				"titles": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["content_id", "media_type", "title", "trend_type", "change_percent", "first_popularity", "last_popularity"]
		}
	}
}`

var trendReportLoader = gojsonschema.NewStringLoader(TrendReportSchema)

// ValidateTrendReport validates a JSON document against TrendReportSchema.
func ValidateTrendReport(jsonData []byte) error {
	result, err := gojsonschema.Validate(trendReportLoader, gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to validate JSON schema: %w", err)
	}

	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return fmt.Errorf("JSON validation failed: %s", strings.Join(errorMessages, "; "))
	}

	return nil
}
