// Package sql provides SQL validation, tokenization and reference extraction.
package sql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// Denylist holds mutating and administrative keywords that are rejected
// anywhere in a statement as standalone words, regardless of letter case.
var Denylist = []string{
	"drop", "truncate", "alter", "delete", "update", "insert",
	"create table", "create schema", "create index",
	"grant", "revoke", "vacuum", "analyze", "copy", "call", "do",
}

var denylistPatterns = compileDenylist(Denylist)

// Keyword boundaries are Unicode-aware: "Doñihue" does not contain DO.
const (
	wordStart = `(?:^|[^\p{L}\p{N}_])`
	wordEnd   = `(?:$|[^\p{L}\p{N}_])`
)

var (
	explainPrefix   = regexp.MustCompile(`(?i)^explain\b`)
	readOnlyKeyword = regexp.MustCompile(`(?i)\b(select|with)\b`)
)

type denyPattern struct {
	keyword string
	re      *regexp.Regexp
}

func compileDenylist(words []string) []denyPattern {
	patterns := make([]denyPattern, 0, len(words))
	for _, w := range words {
		parts := strings.Fields(w)
		for i := range parts {
			parts[i] = regexp.QuoteMeta(parts[i])
		}
		patterns = append(patterns, denyPattern{
			keyword: strings.ToUpper(w),
			re:      regexp.MustCompile(`(?i)` + wordStart + strings.Join(parts, `\s+`) + wordEnd),
		})
	}
	return patterns
}

// Verdict is the outcome of a safety check.
type Verdict struct {
	Allowed bool
	Reason  string
	// ParseFailed marks a rejection caused by malformed SQL rather than by
	// policy.
	ParseFailed bool
	// Statement is the trimmed statement that was checked, without the
	// trailing terminator.
	Statement string
	// Explained is set when the statement is wrapped in EXPLAIN; Inner then
	// holds the wrapped read-only statement.
	Explained bool
	Inner     string
}

// CheckSafety reports whether sqlQuery is a single read-only statement with
// no denylisted keyword, and the reason when it is not.
func CheckSafety(sqlQuery string) (bool, string) {
	v := Check(sqlQuery)
	return v.Allowed, v.Reason
}

// Check validates sqlQuery:
// 1. Trim whitespace and one trailing semicolon
// 2. Unwrap a leading EXPLAIN down to the first SELECT/WITH keyword
// 3. Parse with the PostgreSQL parser and require a single SELECT/WITH
// 4. Scan the whole statement for denylisted keywords
func Check(sqlQuery string) Verdict {
	stmt := TrimStatement(sqlQuery)
	if stmt == "" {
		return Verdict{Reason: "empty statement"}
	}

	v := Verdict{Statement: stmt, Inner: stmt}
	prefix := ""
	if loc := explainPrefix.FindStringIndex(stmt); loc != nil {
		v.Explained = true
		prefix = "EXPLAIN: "
		rest := stmt[loc[1]:]
		if kw := readOnlyKeyword.FindStringIndex(rest); kw != nil {
			v.Inner = strings.TrimSpace(rest[kw[0]:])
		} else {
			v.Inner = strings.TrimSpace(rest)
		}
		if v.Inner == "" {
			v.Reason = "empty statement"
			return v
		}
	}

	kind, err := statementKind(v.Inner)
	if err != nil {
		v.ParseFailed = !errors.Is(err, ErrMultipleStatements)
		if v.ParseFailed {
			v.Reason = fmt.Sprintf("%sparse error: %v", prefix, err)
		} else {
			v.Reason = prefix + err.Error()
		}
		return v
	}
	if kind != "SelectStmt" {
		if v.Explained {
			v.Reason = fmt.Sprintf("EXPLAIN is only allowed over SELECT/WITH (got %s)", kindName(kind))
		} else {
			v.Reason = fmt.Sprintf("only SELECT/WITH/EXPLAIN statements are allowed (got %s)", kindName(kind))
		}
		return v
	}

	if kw, found := FindDeniedKeyword(stmt); found {
		v.Reason = "blocked keyword: " + kw
		return v
	}

	v.Allowed = true
	v.Reason = "OK"
	return v
}

// FindDeniedKeyword returns the first denylisted keyword present in text.
func FindDeniedKeyword(text string) (string, bool) {
	for _, p := range denylistPatterns {
		if p.re.MatchString(text) {
			return p.keyword, true
		}
	}
	return "", false
}

// TrimStatement trims surrounding whitespace and one trailing semicolon.
func TrimStatement(sqlQuery string) string {
	return stripTrailingSemicolon(strings.TrimSpace(sqlQuery))
}

// statementKind parses a single statement and returns the parse node type
// of its top-level statement, e.g. "SelectStmt" or "DropStmt".
func statementKind(sqlQuery string) (string, error) {
	tree, err := pg_query.Parse(sqlQuery)
	if err != nil {
		return "", err
	}
	switch len(tree.Stmts) {
	case 0:
		return "", errors.New("no statement found")
	case 1:
	default:
		return "", fmt.Errorf("%w (found %d)", ErrMultipleStatements, len(tree.Stmts))
	}

	node := tree.Stmts[0].GetStmt()
	if node == nil || node.Node == nil {
		return "", errors.New("no statement found")
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", node.Node), "*pg_query.Node_"), nil
}

// kindName turns a parse node type such as "AlterTableStmt" into "ALTER TABLE".
func kindName(kind string) string {
	kind = strings.TrimSuffix(kind, "Stmt")
	var words []string
	start := 0
	for i, r := range kind {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, kind[start:i])
			start = i
		}
	}
	words = append(words, kind[start:])
	return strings.ToUpper(strings.Join(words, " "))
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace after it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")

	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}

	return sqlQuery
}
