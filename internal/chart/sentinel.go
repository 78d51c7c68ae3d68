package chart

import "fmt"

// Sentinel responses are valid, renderable charts that carry a message in
// Insights instead of data. The rendering layer never special-cases them.

// Clarification wraps a model reply that asks the user for more input.
func Clarification(text string) *Response {
	return &Response{
		ChartType: TypeBar,
		Title:     "More information needed",
		Data:      []map[string]any{},
		Config:    Config{XAxis: "category", YAxis: []string{"value"}},
		Filters:   []Filter{},
		Insights:  text,
	}
}

// ConfigurationError reports that the AI service rejected the request shape.
func ConfigurationError() *Response {
	return &Response{
		ChartType: TypeBar,
		Title:     "Service configuration issue",
		Data:      []map[string]any{},
		Config:    Config{XAxis: "category", YAxis: []string{"value"}},
		Filters:   []Filter{},
		Insights: "The AI service rejected the request because of a configuration problem. " +
			"Please contact your administrator to verify the model and API settings.",
	}
}

// GenericError is returned when the query could not be turned into a chart.
func GenericError(query string) *Response {
	return &Response{
		ChartType: TypeBar,
		Title:     "Unable to process query",
		Data:      []map[string]any{},
		Config:    Config{XAxis: "category", YAxis: []string{"value"}},
		Filters:   []Filter{},
		Insights: fmt.Sprintf("Sorry, I couldn't build a chart for %q. "+
			"Please try rephrasing your question or asking about a specific metric.", query),
	}
}
