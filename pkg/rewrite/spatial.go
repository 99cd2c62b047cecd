package rewrite

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/geosql-gateway/pkg/sql"
)

// spatialPredicates take two geometries first and are sensitive to their
// reference systems.
var spatialPredicates = map[string]struct{}{
	"st_dwithin":    {},
	"st_intersects": {},
}

// operand is a geometry argument resolved against the catalog.
type operand struct {
	h     *hints
	alias string // empty unless the argument is alias.column
	from  int
	to    int
}

func (o operand) primary(firstFrom string) bool {
	return o.alias != "" && o.alias == firstFrom
}

// harmonizeSpatialPredicates wraps geometry arguments of spatial predicates
// in ST_Transform so both sides share a reference system. With metric intent
// the target is the metric SRID and the first FROM table is never
// transformed; otherwise the non-primary side is moved to the primary side's
// SRID, or the second argument to the first one's.
func (p *pass) harmonizeSpatialPredicates(question string) string {
	metric := MentionsMetricUnits(question)
	var edits []sql.Edit

	for i := 0; i < p.toks.Len(); i++ {
		fn := p.toks.Text(i)
		if _, ok := spatialPredicates[strings.ToLower(fn)]; !ok {
			continue
		}
		args, ok := p.callArguments(i)
		if !ok || len(args) < 2 {
			continue
		}
		if p.containsTransform(args[0]) || p.containsTransform(args[1]) {
			continue
		}
		a, okA := p.resolveOperand(args[0])
		b, okB := p.resolveOperand(args[1])
		if !okA || !okB {
			continue
		}

		if metric {
			target := p.e.metricSRID
			wrapped := false
			for _, o := range []operand{a, b} {
				if o.primary(p.firstFrom) || o.h.srid == nil || *o.h.srid == target {
					continue
				}
				edits = append(edits, p.transformEdit(o, target))
				wrapped = true
			}
			if wrapped {
				p.addFix(fmt.Sprintf("%s: normalized to EPSG:%d (meters)", fn, target))
			}
			continue
		}

		if a.h.srid == nil || b.h.srid == nil || *a.h.srid == *b.h.srid {
			continue
		}
		var target int
		switch {
		case a.primary(p.firstFrom):
			target = *a.h.srid
			edits = append(edits, p.transformEdit(b, target))
		case b.primary(p.firstFrom):
			target = *b.h.srid
			edits = append(edits, p.transformEdit(a, target))
		default:
			target = *a.h.srid
			edits = append(edits, p.transformEdit(b, target))
		}
		p.addFix(fmt.Sprintf("%s: harmonized SRIDs to EPSG:%d", fn, target))
	}

	return p.apply(edits)
}

// convertAreasToHectares divides single-argument ST_Area calls by 10000
// when the question asks for hectares. Arguments outside the first FROM
// table with a known non-metric SRID are first transformed to the metric
// SRID.
func (p *pass) convertAreasToHectares(current, question string) string {
	if !MentionsHectares(question) {
		return current
	}

	toks, err := sql.Tokenize(current)
	if err != nil {
		p.e.logger.Debug("Skipping hectare conversion", zap.Error(err))
		return current
	}
	p.toks = toks

	var edits []sql.Edit
	for i := 0; i < p.toks.Len(); i++ {
		if !strings.EqualFold(p.toks.Text(i), "st_area") {
			continue
		}
		args, ok := p.callArguments(i)
		if !ok || len(args) != 1 {
			continue
		}
		closeIdx := p.toks.MatchingParen(i + 1)
		if p.dividedByTenThousand(closeIdx) {
			continue
		}

		desc := "ST_Area: converted to hectares"
		if !p.containsTransform(args[0]) {
			if o, ok := p.resolveOperand(args[0]); ok && !o.primary(p.firstFrom) &&
				o.h.srid != nil && *o.h.srid != p.e.metricSRID {
				edits = append(edits, p.transformEdit(o, p.e.metricSRID))
				desc = fmt.Sprintf("ST_Area: converted to hectares in EPSG:%d", p.e.metricSRID)
			}
		}
		edits = append(edits, sql.Edit{From: closeIdx, To: closeIdx, Text: ")/10000.0"})
		p.addFix(desc)
	}

	return p.apply(edits)
}

// callArguments returns the argument ranges of the call whose name is at
// token i, or false when i is not followed by a parenthesized list.
func (p *pass) callArguments(i int) ([][2]int, bool) {
	open := i + 1
	if p.toks.Text(open) != "(" {
		return nil, false
	}
	closeIdx := p.toks.MatchingParen(open)
	if closeIdx < 0 {
		return nil, false
	}
	return p.toks.Arguments(open, closeIdx), true
}

func (p *pass) containsTransform(arg [2]int) bool {
	for i := arg[0]; i <= arg[1]; i++ {
		if strings.EqualFold(p.toks.Text(i), "st_transform") {
			return true
		}
	}
	return false
}

// resolveOperand maps an argument that is exactly alias.column, table.column
// (unambiguous table) or schema.table.column to its catalog entry.
func (p *pass) resolveOperand(arg [2]int) (operand, bool) {
	c, ok := p.toks.ChainAt(arg[0], arg[1])
	if !ok {
		return operand{}, false
	}

	o := operand{from: arg[0], to: arg[1]}
	switch len(c.Parts) {
	case 2:
		qualifier := p.toks.Text(c.Parts[0])
		if ref, ok := p.aliases[qualifier]; ok {
			o.h = p.lookup(ref)
			o.alias = qualifier
		} else if ref, ok := p.simple[qualifier]; ok {
			o.h = p.lookup(ref)
		}
	case 3:
		schema, table := p.toks.Text(c.Parts[0]), p.toks.Text(c.Parts[1])
		for _, ref := range p.tableOrder {
			if ref.Schema == schema && ref.Table == table {
				o.h = p.tables[ref]
				break
			}
		}
	}
	return o, o.h != nil
}

func (p *pass) transformEdit(o operand, srid int) sql.Edit {
	return sql.Edit{
		From: o.from,
		To:   o.to,
		Text: "ST_Transform(" + p.toks.Span(o.from, o.to) + ", " + strconv.Itoa(srid) + ")",
	}
}

// dividedByTenThousand reports whether the call closing at closeIdx is
// already followed by "/ 10000".
func (p *pass) dividedByTenThousand(closeIdx int) bool {
	if p.toks.Text(closeIdx+1) != "/" {
		return false
	}
	v, err := strconv.ParseFloat(p.toks.Text(closeIdx+2), 64)
	return err == nil && v == 10000
}

func (p *pass) apply(edits []sql.Edit) string {
	if len(edits) == 0 {
		return p.toks.String()
	}
	return p.toks.Apply(edits)
}
