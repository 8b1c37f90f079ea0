package migrations

import (
	"errors"
	"strings"
)

var (
	errUnterminatedQuote   = errors.New("unterminated quoted string")
	errUnterminatedComment = errors.New("unterminated block comment")
)

// SplitStatements splits a SQL script on top-level semicolons. Semicolons
// inside quotes or comments do not split. Comments are dropped and empty
// statements are skipped. The ClickHouse native protocol accepts one
// statement per Exec, so every file goes through here.
func SplitStatements(script string) ([]string, error) {
	var (
		stmts []string
		cur   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				i = len(script)
			} else {
				i += end
				cur.WriteByte('\n')
			}
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				return nil, errUnterminatedComment
			}
			i += end + 3
			cur.WriteByte(' ')
		case c == '\'' || c == '"' || c == '`':
			j := closingQuote(script, i)
			if j < 0 {
				return nil, errUnterminatedQuote
			}
			cur.WriteString(script[i : j+1])
			i = j
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return stmts, nil
}

// closingQuote returns the index of the quote closing the one at start.
// A doubled quote or a backslash escapes it.
func closingQuote(s string, start int) int {
	q := s[start]
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case q:
			if i+1 < len(s) && s[i+1] == q {
				i++
				continue
			}
			return i
		}
	}
	return -1
}
