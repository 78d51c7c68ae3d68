package extract

import "strings"

// clarificationPhrases signal a reply that asks the user a question instead
// of answering. Matched case-insensitively as substrings.
var clarificationPhrases = []string{
	"need to know",
	"please specify",
	"which dataset",
	"clarifying question",
	"could you please",
	"need more information",
	"which specific",
	"can you specify",
	"need to ask",
	"more details",
	"which one",
	"be more specific",
	"please provide",
}

// IsAskingForClarification reports whether v is text asking the user for
// more information. Non-string, nil and empty inputs are never clarifications.
func IsAskingForClarification(v any) bool {
	var text string
	switch s := v.(type) {
	case string:
		text = s
	case *string:
		if s == nil {
			return false
		}
		text = *s
	default:
		return false
	}
	if text == "" {
		return false
	}

	lower := strings.ToLower(text)
	for _, phrase := range clarificationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
