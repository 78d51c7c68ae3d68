package orchestrator

import (
	"fmt"

	"dqinsight/internal/chart"
	"dqinsight/internal/llm"
)

// AnalysisPrompt is the Step1 prompt for a user question. withDataset tells
// the model a dataset file is attached.
func AnalysisPrompt(query string, withDataset bool) string {
	source := "Answer from general knowledge of data-quality monitoring."
	if withDataset {
		source = "The attached CSV file contains the data-quality issues dataset. Use code execution to load and analyse it."
	}
	return fmt.Sprintf(`You are a data-quality analyst for a monitoring dashboard.
%s

Question: %s

If the question is ambiguous, ask one clarifying question instead of answering.
Otherwise compute the answer and finish with a chart description.

%s`, source, query, chart.ShapeInstruction)
}

const reformatSystem = `You convert analysis output into a chart description for a dashboard.
Use only values present in the analysis. Do not invent data.`

// ReformatMessages builds the Step2 request that turns raw Step1 output into
// a chart description.
func ReformatMessages(query, raw string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: reformatSystem},
		{Role: llm.RoleUser, Content: fmt.Sprintf(`Original question: %s

Analysis output:
%s

Convert the analysis output into the chart description.`, query, raw)},
	}
}

// FallbackMessages builds the structured retry of the original prompt used
// when the code-execution call returned no content.
func FallbackMessages(prompt string, file *llm.FileRef) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: reformatSystem},
		{Role: llm.RoleUser, Content: prompt, File: file},
	}
}

// ChartSchema is the structured-output schema for chart descriptions.
func ChartSchema() llm.Schema {
	return llm.Schema{
		Name:        "chart_response",
		JSON:        chart.JSONSchema(),
		Instruction: chart.ShapeInstruction,
	}
}
