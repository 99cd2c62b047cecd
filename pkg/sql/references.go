package sql

import (
	"regexp"

	"github.com/ekaya-inc/geosql-gateway/pkg/models"
)

var (
	// dotReferencePattern matches identifier.identifier pairs. It also matches
	// alias.column in SQL; callers filter against the catalog.
	dotReferencePattern = regexp.MustCompile(`\b([a-zA-Z0-9_]+)\.([a-zA-Z0-9_]+)\b`)

	// phraseReferencePattern matches "schema S ... table T" in English or
	// Spanish, across line breaks.
	phraseReferencePattern = regexp.MustCompile(`(?is)(?:\besquema\b|\bschema\b)\s+(\w+).*?(?:\btabla\b|\btable\b)\s+(\w+)`)
)

// FindReferences extracts table references from free text (a question or a
// SQL statement). Dotted pairs come first, then phrase matches; duplicates
// are removed keeping the first occurrence. No catalog filtering is done.
func FindReferences(text string) []models.TableReference {
	var refs []models.TableReference
	seen := make(map[models.TableReference]struct{})

	add := func(schema, table string) {
		ref := models.TableReference{Schema: schema, Table: table}
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}

	for _, m := range dotReferencePattern.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2])
	}
	for _, m := range phraseReferencePattern.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2])
	}
	return refs
}
