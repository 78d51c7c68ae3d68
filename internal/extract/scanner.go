package extract

type scanState int

const (
	stateNormal scanState = iota
	stateInString
	stateEscaped
)

// SplitObjects splits a run of concatenated top-level JSON objects such as
// `{"a":1}{"b":{"c":"}"}}` into its members. Braces inside string literals,
// including escaped quotes, do not affect depth. Text between objects and an
// unterminated trailing object are discarded.
func SplitObjects(s string) []string {
	var (
		objects []string
		state   = stateNormal
		depth   = 0
		start   = -1
	)

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch state {
		case stateEscaped:
			state = stateInString

		case stateInString:
			switch c {
			case '\\':
				state = stateEscaped
			case '"':
				state = stateNormal
			}

		case stateNormal:
			switch c {
			case '"':
				if depth > 0 {
					state = stateInString
				}
			case '{':
				if depth == 0 {
					start = i
				}
				depth++
			case '}':
				if depth == 0 {
					continue
				}
				depth--
				if depth == 0 {
					objects = append(objects, s[start:i+1])
					start = -1
				}
			}
		}
	}

	return objects
}
