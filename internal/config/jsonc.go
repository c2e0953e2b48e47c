package config

// StripJSONComments removes // and /* */ comments from JSONC content.
// Comment markers inside string literals are left alone, including strings
// that end in an escaped backslash.
func StripJSONComments(data []byte) []byte {
	out := make([]byte, 0, len(data))

	inString := false
	escaped := false
	for i := 0; i < len(data); i++ {
		c := data[i]

		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}

		if c == '/' && i+1 < len(data) {
			switch data[i+1] {
			case '/':
				for i < len(data) && data[i] != '\n' {
					i++
				}
				if i < len(data) {
					out = append(out, '\n')
				}
				continue
			case '*':
				i += 2
				for i+1 < len(data) && !(data[i] == '*' && data[i+1] == '/') {
					i++
				}
				i++ // land on the closing '/'
				continue
			}
		}

		out = append(out, c)
	}

	return out
}
