package chart

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// UnknownLabel is the filter label used when neither label nor field is set.
const UnknownLabel = "Unknown"

// Normalizer turns provider output of uncertain shape into a Response.
type Normalizer struct {
	Logger *zap.Logger
}

// Normalize applies the default Normalizer (no logging).
func Normalize(v any) (*Response, error) {
	return Normalizer{}.Normalize(v)
}

// Normalize validates v and coerces it into a conformant Response.
//
// v may be a decoded JSON object (map[string]any), a Response or *Response,
// or raw JSON ([]byte, json.RawMessage, string). Normalizing an already
// normalized Response returns an equal value.
func (n Normalizer) Normalize(v any) (*Response, error) {
	obj, err := asObject(v)
	if err != nil {
		return nil, err
	}

	chartType := stringField(obj, "chartType")
	title := stringField(obj, "title")
	rawConfig, hasConfig := obj["config"]
	if chartType == "" || title == "" || !hasConfig || rawConfig == nil {
		return nil, &StructuralError{Reason: ReasonMissingFields}
	}

	t := Type(chartType)
	if !t.Valid() {
		n.logger().Warn("invalid chart type, defaulting to bar", zap.String("chart_type", chartType))
		t = TypeBar
	}

	cfg, err := normalizeConfig(rawConfig)
	if err != nil {
		return nil, err
	}

	return &Response{
		ChartType: t,
		Title:     title,
		Data:      normalizeData(obj["data"]),
		Config:    cfg,
		Filters:   NormalizeFilters(obj["filters"]),
		Insights:  stringField(obj, "insights"),
	}, nil
}

func (n Normalizer) logger() *zap.Logger {
	if n.Logger == nil {
		return zap.NewNop()
	}
	return n.Logger
}

// NormalizeFilters coerces v into a filter list. Anything that is not an
// array yields an empty list; elements that are not objects are dropped.
func NormalizeFilters(v any) []Filter {
	items, ok := v.([]any)
	if !ok {
		return []Filter{}
	}

	filters := make([]Filter, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := Filter{
			Field:  stringField(obj, "field"),
			Label:  stringField(obj, "label"),
			Values: stringList(obj["values"]),
		}
		if f.Label == "" {
			f.Label = f.Field
		}
		if f.Label == "" {
			f.Label = UnknownLabel
		}
		filters = append(filters, f)
	}
	return filters
}

func normalizeConfig(v any) (Config, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Config{}, &StructuralError{Reason: ReasonMissingAxis}
	}

	xAxis := stringField(obj, "xAxis")

	var yAxis []string
	switch y := obj["yAxis"].(type) {
	case []any:
		yAxis = stringList(y)
	case nil:
	default:
		if s := scalarString(y); s != "" {
			yAxis = []string{s}
		}
	}

	if xAxis == "" || len(yAxis) == 0 {
		return Config{}, &StructuralError{Reason: ReasonMissingAxis}
	}

	return Config{
		XAxis:   xAxis,
		YAxis:   yAxis,
		GroupBy: stringField(obj, "groupBy"),
	}, nil
}

func normalizeData(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return []map[string]any{}
	}
	data := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]any); ok {
			data = append(data, rec)
		}
	}
	return data
}

// asObject decodes every accepted input form into a generic JSON object.
func asObject(v any) (map[string]any, error) {
	switch val := v.(type) {
	case map[string]any:
		// Re-encoded so Go-native values (int, []string, ...) take the same
		// JSON forms a Response round trip produces.
		obj, err := roundTrip(val)
		if err != nil {
			return nil, &StructuralError{Reason: ReasonMissingFields}
		}
		return obj, nil
	case nil:
		return nil, &StructuralError{Reason: ReasonMissingFields}
	case Response, *Response:
		return roundTrip(val)
	case json.RawMessage:
		return decodeObject(val)
	case []byte:
		return decodeObject(val)
	case string:
		return decodeObject([]byte(val))
	default:
		return roundTrip(val)
	}
}

func roundTrip(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chart response: %w", err)
	}
	return decodeObject(raw)
}

func decodeObject(raw []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, &StructuralError{Reason: ReasonMissingFields}
	}
	return obj, nil
}

func stringField(obj map[string]any, key string) string {
	return scalarString(obj[key])
}

// scalarString renders strings, numbers and booleans; everything else is "".
func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64, int, int64, bool, json.Number:
		return fmt.Sprint(s)
	default:
		return ""
	}
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := scalarString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
