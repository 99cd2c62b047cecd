// Package rewrite repairs generated SQL against the schema catalog: guessed
// identifier and geometry column names, mismatched spatial reference systems
// and area units.
package rewrite

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/geosql-gateway/pkg/catalog"
	"github.com/ekaya-inc/geosql-gateway/pkg/logging"
	"github.com/ekaya-inc/geosql-gateway/pkg/models"
	"github.com/ekaya-inc/geosql-gateway/pkg/sql"
)

// MetricSRID is the projected reference system (UTM zone 19S) used whenever
// distances or areas must come out in meters.
const MetricSRID = 32719

// Catalog is the lookup the engine needs from the schema catalog.
type Catalog interface {
	Lookup(ref models.TableReference) *models.TableInfo
}

// guessedGeometryNames are the column spellings a generator tends to invent
// for the geometry column.
var guessedGeometryNames = map[string]struct{}{
	"geom": {}, "geometry": {}, "geometria": {},
}

// aliasStopWords are keywords that can follow "FROM schema.table" and must
// not be taken as an alias.
var aliasStopWords = map[string]struct{}{
	"where": {}, "join": {}, "inner": {}, "left": {}, "right": {}, "full": {},
	"cross": {}, "natural": {}, "on": {}, "using": {}, "group": {}, "order": {},
	"limit": {}, "offset": {}, "union": {}, "intersect": {}, "except": {},
	"window": {}, "having": {}, "lateral": {}, "fetch": {}, "for": {},
	"tablesample": {}, "as": {},
}

// Engine applies catalog-driven rewrites. It holds no per-call state and is
// safe for concurrent use.
type Engine struct {
	catalog    Catalog
	metricSRID int
	logger     *zap.Logger
}

// New creates an Engine. If logger is nil, a no-op logger is used.
func New(cat Catalog, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		catalog:    cat,
		metricSRID: MetricSRID,
		logger:     logger.Named("rewrite"),
	}
}

// hints are the catalog-derived replacements for one table.
type hints struct {
	ref  models.TableReference
	id   string
	geom string
	srid *int
}

// pass carries the state of one Rewrite call.
type pass struct {
	e     *Engine
	toks  *sql.Tokens
	fixes []models.Fix

	tables     map[models.TableReference]*hints
	tableOrder []models.TableReference
	simple     map[string]models.TableReference // unambiguous bare table names

	aliases    map[string]models.TableReference
	aliasOrder []string
	firstFrom  string
}

// Rewrite returns sqlQuery with column guesses and spatial reference
// mismatches repaired, plus a description of each fix applied. It never
// fails: input the scanner cannot tokenize is returned unchanged.
func (e *Engine) Rewrite(sqlQuery, question string) (string, []models.Fix) {
	toks, err := sql.Tokenize(sqlQuery)
	if err != nil {
		e.logger.Debug("Skipping rewrite of untokenizable statement",
			zap.String("sql", logging.SanitizeQuery(sqlQuery)),
			zap.Error(err))
		return sqlQuery, nil
	}

	p := &pass{e: e, toks: toks}
	p.buildTableHints(question, sqlQuery)
	p.collectAliases()

	p.substituteAliasColumns()
	p.substituteQualifiedColumns()
	p.substituteBareTableColumns()

	out := p.harmonizeSpatialPredicates(question)
	out = p.convertAreasToHectares(out, question)

	if len(p.fixes) > 0 {
		e.logger.Debug("Rewrote statement",
			zap.Int("fixes", len(p.fixes)),
			zap.String("sql", logging.SanitizeQuery(out)))
	}
	return out, p.fixes
}

// buildTableHints resolves every reference found in the question and the
// statement. Bare table names shared by more than one resolved reference are
// ambiguous and left out of the simple map.
func (p *pass) buildTableHints(question, sqlQuery string) {
	p.tables = make(map[models.TableReference]*hints)
	p.simple = make(map[string]models.TableReference)

	counts := make(map[string]int)
	seen := make(map[models.TableReference]struct{})
	refs := append(sql.FindReferences(question), sql.FindReferences(sqlQuery)...)
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}

		h := p.lookup(ref)
		if h == nil {
			continue
		}
		p.tables[ref] = h
		p.tableOrder = append(p.tableOrder, ref)
		counts[ref.Table]++
	}

	for _, ref := range p.tableOrder {
		if counts[ref.Table] == 1 {
			p.simple[ref.Table] = ref
		}
	}
}

// lookup returns the hints for ref, or nil on a catalog miss.
func (p *pass) lookup(ref models.TableReference) *hints {
	if h, ok := p.tables[ref]; ok {
		return h
	}
	ti := p.e.catalog.Lookup(ref)
	if ti == nil {
		return nil
	}
	return &hints{
		ref:  ref,
		id:   catalog.SuggestPrimaryKey(ti),
		geom: catalog.PreferredGeometry(ti),
		srid: ti.SRID(),
	}
}

// collectAliases records "FROM schema.table [AS] alias" bindings, then
// "JOIN schema.table [AS] alias" bindings. A later binding of the same alias
// overwrites an earlier one.
func (p *pass) collectAliases() {
	p.aliases = make(map[string]models.TableReference)

	chainsByStart := make(map[int]sql.Chain)
	for _, c := range p.toks.Chains() {
		chainsByStart[c.Start()] = c
	}

	type binding struct {
		alias string
		ref   models.TableReference
	}
	var fromBindings, joinBindings []binding

	for i := 0; i < p.toks.Len(); i++ {
		kw := strings.ToLower(p.toks.Text(i))
		if kw != "from" && kw != "join" {
			continue
		}
		c, ok := chainsByStart[i+1]
		if !ok || len(c.Parts) != 2 {
			continue
		}
		next := c.End() + 1
		if strings.EqualFold(p.toks.Text(next), "as") {
			next++
		}
		alias := p.toks.Text(next)
		if !sql.IsIdentifier(alias) {
			continue
		}
		if _, stop := aliasStopWords[strings.ToLower(alias)]; stop {
			continue
		}

		b := binding{
			alias: alias,
			ref: models.TableReference{
				Schema: p.toks.Text(c.Parts[0]),
				Table:  p.toks.Text(c.Parts[1]),
			},
		}
		if kw == "from" {
			fromBindings = append(fromBindings, b)
		} else {
			joinBindings = append(joinBindings, b)
		}
	}

	if len(fromBindings) > 0 {
		p.firstFrom = fromBindings[0].alias
	}
	for _, b := range append(fromBindings, joinBindings...) {
		if _, exists := p.aliases[b.alias]; !exists {
			p.aliasOrder = append(p.aliasOrder, b.alias)
		}
		p.aliases[b.alias] = b.ref
	}
}

// substituteAliasColumns rewrites alias.id and alias.geom|geometry|geometria.
func (p *pass) substituteAliasColumns() {
	for _, alias := range p.aliasOrder {
		h := p.lookup(p.aliases[alias])
		if h == nil {
			continue
		}
		p.substitute(h, func(c sql.Chain) bool {
			return len(c.Parts) == 2 && p.toks.Text(c.Parts[0]) == alias
		})
	}
}

// substituteQualifiedColumns rewrites schema.table.id and
// schema.table.geom|geometry|geometria.
func (p *pass) substituteQualifiedColumns() {
	for _, ref := range p.tableOrder {
		p.substitute(p.tables[ref], func(c sql.Chain) bool {
			return len(c.Parts) == 3 &&
				p.toks.Text(c.Parts[0]) == ref.Schema &&
				p.toks.Text(c.Parts[1]) == ref.Table
		})
	}
}

// substituteBareTableColumns rewrites table.id and table.geom... for table
// names that are not ambiguous.
func (p *pass) substituteBareTableColumns() {
	for _, ref := range p.tableOrder {
		if p.simple[ref.Table] != ref {
			continue
		}
		table := ref.Table
		p.substitute(p.tables[ref], func(c sql.Chain) bool {
			return len(c.Parts) == 2 && p.toks.Text(c.Parts[0]) == table
		})
	}
}

// substitute replaces the last part of every matching chain: the literal
// "id" with the suggested identifier and any guessed geometry spelling
// (case-insensitive) with the suggested geometry column. One fix is recorded
// per kind of replacement.
func (p *pass) substitute(h *hints, match func(sql.Chain) bool) {
	var idFrom, geomFrom string

	for _, c := range p.toks.Chains() {
		if !match(c) {
			continue
		}
		last := c.End()
		col := p.toks.Text(last)
		prefix := p.toks.Span(c.Start(), last-1)

		switch {
		case h.id != "" && col == "id" && col != h.id:
			p.toks.Items[last].Text = h.id
			if idFrom == "" {
				idFrom = prefix + col
			}
		case h.geom != "" && isGuessedGeometry(col) && col != h.geom:
			p.toks.Items[last].Text = h.geom
			if geomFrom == "" {
				geomFrom = prefix + col
			}
		}
	}

	if idFrom != "" {
		p.addFix(idFrom + " -> " + replaceLastPart(idFrom, h.id))
	}
	if geomFrom != "" {
		p.addFix(geomFrom + " -> " + replaceLastPart(geomFrom, h.geom))
	}
}

func (p *pass) addFix(desc string) {
	p.fixes = append(p.fixes, models.Fix(desc))
}

func isGuessedGeometry(col string) bool {
	_, ok := guessedGeometryNames[strings.ToLower(col)]
	return ok
}

func replaceLastPart(dotted, part string) string {
	i := strings.LastIndex(dotted, ".")
	return dotted[:i+1] + part
}
