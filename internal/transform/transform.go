package transform

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is one segment of the scanned input.
type Token struct {
	Text     string
	Rule     string // empty for whitespace and for the unmatched fallback
	Preserve bool
	Space    bool
}

// Tokenize splits text into whitespace runs and rule matches. At each
// non-whitespace position the rules are tried in order and the first
// non-empty match wins. When nothing matches, the rest of the
// non-whitespace run becomes a single replaced token.
//
// Whitespace is anything unicode.IsSpace accepts, and no token crosses it.
// A replaced token ends where an earlier preserve rule would match, so a
// protected symbol glued to a word keeps its own position.
func (rs *RuleSet) Tokenize(text string) []Token {
	var tokens []Token
	for pos := 0; pos < len(text); {
		if n := spaceLen(text[pos:]); n > 0 {
			tokens = append(tokens, Token{Text: text[pos : pos+n], Space: true})
			pos += n
			continue
		}

		tok, n := rs.match(text[pos:])
		tokens = append(tokens, tok)
		pos += n
	}
	return tokens
}

// Transform returns text with every non-preserved token replaced by the
// placeholder. Whitespace is kept exactly as it appears.
func (rs *RuleSet) Transform(text string) string {
	if text == "" {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(text))
	for _, tok := range rs.Tokenize(text) {
		if tok.Space || tok.Preserve {
			sb.WriteString(tok.Text)
			continue
		}
		sb.WriteString(rs.placeholder)
	}
	return sb.String()
}

func (rs *RuleSet) match(s string) (Token, int) {
	s = s[:runLen(s)]
	for i, r := range rs.rules {
		loc := r.re.FindStringIndex(s)
		if loc == nil || loc[1] == 0 {
			continue
		}
		n := loc[1]
		if !r.preserve {
			n = rs.cut(s[:n], i)
		}
		return Token{Text: s[:n], Rule: r.name, Preserve: r.preserve}, n
	}
	n := rs.cut(s, len(rs.rules))
	return Token{Text: s[:n]}, n
}

// cut returns the offset of the first rune inside run where a preserve
// rule ranked before limit has a non-empty match, or len(run).
func (rs *RuleSet) cut(run string, limit int) int {
	_, first := utf8.DecodeRuneInString(run)
	for off := first; off < len(run); {
		rest := run[off:]
		for _, r := range rs.rules[:limit] {
			if !r.preserve {
				continue
			}
			if loc := r.re.FindStringIndex(rest); loc != nil && loc[1] > 0 {
				return off
			}
		}
		_, size := utf8.DecodeRuneInString(rest)
		off += size
	}
	return len(run)
}

// runLen is the length of the leading non-whitespace run of s.
func runLen(s string) int {
	for i, c := range s {
		if unicode.IsSpace(c) {
			return i
		}
	}
	return len(s)
}

func spaceLen(s string) int {
	n := 0
	for n < len(s) {
		c, size := utf8.DecodeRuneInString(s[n:])
		if !unicode.IsSpace(c) {
			break
		}
		n += size
	}
	return n
}
