package sql

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Token is one lexical token of a statement together with the text that
// separates it from the previous token (whitespace, usually). Rendering the
// prefixes and texts in order reproduces the source exactly.
type Token struct {
	Prefix string
	Text   string
}

// Tokens is a lossless token stream produced by the PostgreSQL scanner.
type Tokens struct {
	Items    []Token
	Trailing string
}

// Tokenize scans sqlQuery with the PostgreSQL lexer. Comments are kept as
// tokens so that no source text is lost.
func Tokenize(sqlQuery string) (*Tokens, error) {
	result, err := pg_query.Scan(sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("scan statement: %w", err)
	}

	toks := &Tokens{Items: make([]Token, 0, len(result.Tokens))}
	pos := 0
	for _, st := range result.Tokens {
		start, end := int(st.Start), int(st.End)
		if start < pos || end > len(sqlQuery) || end < start {
			return nil, fmt.Errorf("scan statement: token out of range at offset %d", start)
		}
		toks.Items = append(toks.Items, Token{
			Prefix: sqlQuery[pos:start],
			Text:   sqlQuery[start:end],
		})
		pos = end
	}
	toks.Trailing = sqlQuery[pos:]
	return toks, nil
}

// String renders the stream back into SQL text.
func (t *Tokens) String() string {
	var b strings.Builder
	for _, tok := range t.Items {
		b.WriteString(tok.Prefix)
		b.WriteString(tok.Text)
	}
	b.WriteString(t.Trailing)
	return b.String()
}

// Len returns the number of tokens.
func (t *Tokens) Len() int {
	return len(t.Items)
}

// Text returns the text of token i, or "" when i is out of range.
func (t *Tokens) Text(i int) string {
	if i < 0 || i >= len(t.Items) {
		return ""
	}
	return t.Items[i].Text
}

// Tight reports whether token i directly follows the previous token with no
// separating text.
func (t *Tokens) Tight(i int) bool {
	return i > 0 && i < len(t.Items) && t.Items[i].Prefix == ""
}

// Span renders tokens [from, to] inclusive, without the prefix of the first one.
func (t *Tokens) Span(from, to int) string {
	var b strings.Builder
	for i := from; i <= to && i < len(t.Items); i++ {
		if i > from {
			b.WriteString(t.Items[i].Prefix)
		}
		b.WriteString(t.Items[i].Text)
	}
	return b.String()
}

// IsIdentifier reports whether text is an unquoted SQL identifier or keyword.
func IsIdentifier(text string) bool {
	if text == "" {
		return false
	}
	for i, r := range text {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '$'):
		default:
			return false
		}
	}
	return true
}

// Chain is a maximal run of identifiers joined by dots with no whitespace,
// such as a.geom or schema.table.column. Parts holds token indexes of the
// identifiers, in order.
type Chain struct {
	Parts []int
}

// Start returns the index of the first token in the chain.
func (c Chain) Start() int { return c.Parts[0] }

// End returns the index of the last token in the chain.
func (c Chain) End() int { return c.Parts[len(c.Parts)-1] }

// Chains returns every dotted identifier chain of two or more parts.
func (t *Tokens) Chains() []Chain {
	var chains []Chain
	n := len(t.Items)
	for i := 0; i < n; i++ {
		if !IsIdentifier(t.Items[i].Text) {
			continue
		}
		// Never start in the middle of a chain.
		if i > 0 && t.Items[i-1].Text == "." && t.Tight(i) {
			continue
		}
		parts := []int{i}
		j := i
		for j+2 < n && t.Items[j+1].Text == "." && t.Tight(j+1) &&
			IsIdentifier(t.Items[j+2].Text) && t.Tight(j+2) {
			j += 2
			parts = append(parts, j)
		}
		if len(parts) > 1 {
			chains = append(chains, Chain{Parts: parts})
		}
		i = j
	}
	return chains
}

// ChainAt returns the chain that covers exactly tokens [from, to], if any.
func (t *Tokens) ChainAt(from, to int) (Chain, bool) {
	parts := []int{from}
	if !IsIdentifier(t.Text(from)) {
		return Chain{}, false
	}
	i := from
	for i < to {
		if t.Text(i+1) != "." || !t.Tight(i+1) || !IsIdentifier(t.Text(i+2)) || !t.Tight(i+2) {
			return Chain{}, false
		}
		i += 2
		parts = append(parts, i)
	}
	if i != to || len(parts) < 2 {
		return Chain{}, false
	}
	return Chain{Parts: parts}, true
}

// MatchingParen returns the index of the ")" closing the "(" at open, or -1.
func (t *Tokens) MatchingParen(open int) int {
	depth := 0
	for i := open; i < len(t.Items); i++ {
		switch t.Items[i].Text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Arguments splits the token range strictly between open and close at
// top-level commas. Each argument is returned as an inclusive [from, to]
// index pair; empty arguments are skipped.
func (t *Tokens) Arguments(open, close int) [][2]int {
	var args [][2]int
	depth := 0
	start := open + 1
	for i := open + 1; i < close; i++ {
		switch t.Items[i].Text {
		case "(", "[":
			depth++
		case ")", "]":
			depth--
		case ",":
			if depth == 0 {
				if i > start {
					args = append(args, [2]int{start, i - 1})
				}
				start = i + 1
			}
		}
	}
	if close > start {
		args = append(args, [2]int{start, close - 1})
	}
	return args
}

// Edit replaces an inclusive token range with new text. The prefix of the
// first replaced token is kept.
type Edit struct {
	From, To int
	Text     string
}

// Apply renders the stream with non-overlapping edits applied. Edits that
// overlap an earlier one are dropped.
func (t *Tokens) Apply(edits []Edit) string {
	byStart := make(map[int]Edit, len(edits))
	for _, e := range edits {
		if _, dup := byStart[e.From]; !dup {
			byStart[e.From] = e
		}
	}

	var b strings.Builder
	for i := 0; i < len(t.Items); i++ {
		b.WriteString(t.Items[i].Prefix)
		if e, ok := byStart[i]; ok && e.To >= i {
			b.WriteString(e.Text)
			i = e.To
			continue
		}
		b.WriteString(t.Items[i].Text)
	}
	b.WriteString(t.Trailing)
	return b.String()
}
