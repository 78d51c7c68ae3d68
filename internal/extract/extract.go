// Package extract recovers JSON payloads and intent signals from raw LLM text.
package extract

import (
	"regexp"
	"strings"
)

var (
	// fencedBlock matches a markdown code fence, optionally tagged json.
	fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

	// chartTypeField identifies the object carrying the final chart.
	chartTypeField = regexp.MustCompile(`"chartType"\s*:\s*"[^"]+"`)
)

// JSON returns the best JSON-shaped substring of text. It never fails;
// the result may still not parse, which callers must handle.
//
// Priority: a fenced code block wins; then a concatenation of top-level
// objects (tool-execution traces followed by the result) yields the last
// object that names a chartType, or else the last object; otherwise the
// trimmed text is returned unchanged.
func JSON(text string) string {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !strings.Contains(trimmed, "}{") {
		return trimmed
	}

	objects := SplitObjects(trimmed)
	if len(objects) == 0 {
		return trimmed
	}
	for i := len(objects) - 1; i >= 0; i-- {
		if chartTypeField.MatchString(objects[i]) {
			return objects[i]
		}
	}
	return objects[len(objects)-1]
}
