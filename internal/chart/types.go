// Package chart defines the chart-description object returned to the
// dashboard and the normalizer that enforces its shape invariants.
package chart

// Type is the chart kind the rendering layer knows how to draw.
type Type string

const (
	TypeLine    Type = "line"
	TypeBar     Type = "bar"
	TypePie     Type = "pie"
	TypeScatter Type = "scatter"
	TypeArea    Type = "area"
	TypeHeatmap Type = "heatmap"
)

// Types lists every valid chart type in schema order.
var Types = []Type{TypeLine, TypeBar, TypePie, TypeScatter, TypeArea, TypeHeatmap}

// Valid reports whether t is one of the six renderable chart types.
func (t Type) Valid() bool {
	for _, v := range Types {
		if t == v {
			return true
		}
	}
	return false
}

// Response is the canonical chart description consumed by the rendering layer.
//
// Data records use named domain fields: every key referenced by Config.XAxis,
// Config.YAxis and Config.GroupBy is expected in each record.
type Response struct {
	ChartType Type             `json:"chartType"`
	Title     string           `json:"title"`
	Data      []map[string]any `json:"data"`
	Config    Config           `json:"config"`
	Filters   []Filter         `json:"filters"`
	Insights  string           `json:"insights,omitempty"`
}

// Config names the record fields plotted on each axis.
type Config struct {
	XAxis   string   `json:"xAxis"`
	YAxis   []string `json:"yAxis"`
	GroupBy string   `json:"groupBy,omitempty"`
}

// Filter is a dashboard filter suggestion attached to a chart.
type Filter struct {
	Field  string   `json:"field"`
	Label  string   `json:"label"`
	Values []string `json:"values"`
}

// StructuralError reports a payload that cannot be turned into a Response.
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string {
	return "invalid chart response: " + e.Reason
}

// Reasons carried by StructuralError.
const (
	ReasonMissingFields = "missing required fields"
	ReasonMissingAxis   = "missing axis configuration"
)
