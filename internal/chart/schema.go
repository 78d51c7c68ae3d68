package chart

// ShapeInstruction describes the Response shape in prose for providers that
// cannot enforce a JSON schema natively.
const ShapeInstruction = `Respond with a single JSON object and nothing else. The object must have:
- "chartType": one of "line", "bar", "pie", "scatter", "area", "heatmap"
- "title": short chart title
- "data": array of records; every record uses the field names referenced in config
- "config": {"xAxis": field name, "yAxis": array of field names, "groupBy": optional field name}
- "filters": array of {"field": string, "label": string, "values": array of strings}
- "insights": optional one-paragraph summary of what the chart shows`

// JSONSchema returns the JSON schema of Response for structured-output calls.
func JSONSchema() map[string]any {
	chartTypes := make([]any, 0, len(Types))
	for _, t := range Types {
		chartTypes = append(chartTypes, string(t))
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"chartType": map[string]any{"type": "string", "enum": chartTypes},
			"title":     map[string]any{"type": "string"},
			"data": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": true,
				},
			},
			"config": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"xAxis":   map[string]any{"type": "string"},
					"yAxis":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"groupBy": map[string]any{"type": "string"},
				},
				"required": []any{"xAxis", "yAxis"},
			},
			"filters": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"field":  map[string]any{"type": "string"},
						"label":  map[string]any{"type": "string"},
						"values": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required": []any{"field", "label", "values"},
				},
			},
			"insights": map[string]any{"type": "string"},
		},
		"required": []any{"chartType", "title", "data", "config", "filters"},
	}
}
