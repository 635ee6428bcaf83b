package cli

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Tokenizes JSON into keys (quoted string + colon), string values,
// booleans/null, and numbers. Whatever does not match passes through
// uncolored, which keeps braces and commas plain.
var jsonTokenRegex = regexp.MustCompile(`("(\\u[a-zA-Z0-9]{4}|\\[^u]|[^\\"])*"(\s*:)?|\b(true|false|null)\b|-?\d+(?:\.\d*)?(?:[eE][+\-]?\d+)?)`)

// HighlightJSON applies ANSI colors to a JSON string, minified or
// indented. A no-op when color is disabled.
func HighlightJSON(jsonStr string) string {
	if !Enabled() {
		return jsonStr
	}

	return jsonTokenRegex.ReplaceAllStringFunc(jsonStr, func(token string) string {
		switch {
		case strings.HasSuffix(token, ":"):
			key := token[:len(token)-1]
			return fmt.Sprintf("%s%s%s:", Blue, key, Reset)
		case strings.HasPrefix(token, "\""):
			return fmt.Sprintf("%s%s%s", Green, token, Reset)
		case token == "true" || token == "false":
			return fmt.Sprintf("%s%s%s", Yellow, token, Reset)
		case token == "null":
			return fmt.Sprintf("%s%s%s", Dim, token, Reset)
		default:
			return fmt.Sprintf("%s%s%s", Purple, token, Reset)
		}
	})
}

// PrettyFormat renders v as indented, colorized JSON. Byte slices and
// strings are assumed to already hold JSON and are highlighted as-is.
func PrettyFormat(v interface{}) string {
	var str string
	switch t := v.(type) {
	case []byte:
		str = string(t)
	case string:
		str = t
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%+v", v)
		}
		str = string(b)
	}

	return HighlightJSON(str)
}

// PrettyPrint writes PrettyFormat output to stdout.
func PrettyPrint(v interface{}) {
	fmt.Println(PrettyFormat(v))
}
