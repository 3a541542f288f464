package request

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMissingParameter = errors.New("request: parameter not set")

// ParameterizedQuery is query text with :name placeholders. Placeholders
// inside quotes, identifiers and comments are ignored, as are :: casts.
type ParameterizedQuery struct {
	text  string
	parts []string // literal text around placeholders, len(refs)+1
	refs  []string // placeholder name per gap
	names []string // unique names, declaration order
}

func ParseQuery(text string) *ParameterizedQuery {
	q := &ParameterizedQuery{text: text}
	seen := map[string]bool{}
	var cur strings.Builder

	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			j := skipQuoted(text, i)
			cur.WriteString(text[i:j])
			i = j
		case c == '-' && strings.HasPrefix(text[i:], "--"):
			j := strings.IndexByte(text[i:], '\n')
			if j < 0 {
				j = len(text) - i
			}
			cur.WriteString(text[i : i+j])
			i += j
		case c == '/' && strings.HasPrefix(text[i:], "/*"):
			j := strings.Index(text[i+2:], "*/")
			end := len(text)
			if j >= 0 {
				end = i + 2 + j + 2
			}
			cur.WriteString(text[i:end])
			i = end
		case c == ':' && strings.HasPrefix(text[i:], "::"):
			cur.WriteString("::")
			i += 2
		case c == ':' && i+1 < len(text) && isNameStart(text[i+1]):
			j := i + 1
			for j < len(text) && isNameByte(text[j]) {
				j++
			}
			name := text[i+1 : j]
			q.parts = append(q.parts, cur.String())
			cur.Reset()
			q.refs = append(q.refs, name)
			if !seen[name] {
				seen[name] = true
				q.names = append(q.names, name)
			}
			i = j
		default:
			cur.WriteByte(c)
			i++
		}
	}
	q.parts = append(q.parts, cur.String())
	return q
}

// skipQuoted returns the index after the quoted run starting at i. A doubled
// or backslash-escaped quote does not end it.
func skipQuoted(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			if j+1 < len(s) && s[j+1] == q {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(s)
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameByte(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func (q *ParameterizedQuery) Text() string { return q.text }

// Parameters lists placeholder names in declaration order, each once.
func (q *ParameterizedQuery) Parameters() []string {
	return append([]string(nil), q.names...)
}

func (q *ParameterizedQuery) HasParameters() bool { return len(q.names) > 0 }

// Bind matches values to Parameters positionally. Fewer values leave the
// remaining names unbound; more values is an error.
func (q *ParameterizedQuery) Bind(values []string) (map[string]string, error) {
	if len(values) > len(q.names) {
		return nil, fmt.Errorf("request: %d values for %d parameters", len(values), len(q.names))
	}
	out := make(map[string]string, len(values))
	for i, v := range values {
		out[q.names[i]] = v
	}
	return out, nil
}

// Apply substitutes the rendered literals in values. Every placeholder must
// be bound.
func (q *ParameterizedQuery) Apply(values map[string]string) (string, error) {
	var missing []string
	for _, n := range q.names {
		if _, ok := values[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(missing, ", "))
	}

	var b strings.Builder
	for i, ref := range q.refs {
		b.WriteString(q.parts[i])
		b.WriteString(values[ref])
	}
	b.WriteString(q.parts[len(q.parts)-1])
	return b.String(), nil
}
