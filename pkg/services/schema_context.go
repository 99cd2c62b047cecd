package services

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/geosql-gateway/pkg/catalog"
	"github.com/ekaya-inc/geosql-gateway/pkg/models"
	"github.com/ekaya-inc/geosql-gateway/pkg/sql"
)

const (
	// DefaultContextCharBudget caps the size of the schema context handed to
	// the SQL generator.
	DefaultContextCharBudget = 5000
	// maxPreviewColumns caps the column names listed per table.
	maxPreviewColumns = 30

	unknownHint = "unk"
)

// TableLookup is the catalog read the context builder needs.
type TableLookup interface {
	Lookup(ref models.TableReference) *models.TableInfo
}

// SchemaContextBuilder renders compact per-table hints for the tables a
// question or statement mentions.
type SchemaContextBuilder interface {
	// Build returns one line per referenced table:
	//   schema.table (cols: a, b, ...) | pk=x | geom=y | srid=z
	// Overrides are keyed by "schema.table". Unknown tables degrade to
	// "schema.table | pk=unk | geom=unk | srid=unk".
	Build(text string, overrides map[string]models.TableOverride) string
}

type schemaContextBuilder struct {
	catalog TableLookup
	budget  int
	logger  *zap.Logger
}

// NewSchemaContextBuilder creates a builder over cat. A budget <= 0 uses
// DefaultContextCharBudget.
func NewSchemaContextBuilder(cat TableLookup, budget int, logger *zap.Logger) SchemaContextBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if budget <= 0 {
		budget = DefaultContextCharBudget
	}
	return &schemaContextBuilder{
		catalog: cat,
		budget:  budget,
		logger:  logger.Named("schema-context"),
	}
}

func (b *schemaContextBuilder) Build(text string, overrides map[string]models.TableOverride) string {
	refs := sql.FindReferences(text)
	if len(refs) == 0 {
		return ""
	}

	lines := make([]string, 0, len(refs))
	misses := 0
	for _, ref := range refs {
		ti := b.catalog.Lookup(ref)
		if ti == nil {
			misses++
			lines = append(lines, ref.String()+" | pk=unk | geom=unk | srid=unk")
			continue
		}
		lines = append(lines, describeForPrompt(ti, overrides[ref.String()]))
	}

	b.logger.Debug("Built schema context",
		zap.Int("tables", len(refs)),
		zap.Int("catalog_misses", misses))

	return truncateRunes(strings.Join(lines, "\n"), b.budget)
}

func describeForPrompt(ti *models.TableInfo, o models.TableOverride) string {
	pk := catalog.SuggestPrimaryKey(ti)
	geom := catalog.PreferredGeometry(ti)
	srid := unknownHint
	if s := ti.SRID(); s != nil {
		srid = strconv.Itoa(*s)
	}

	if o.PK != "" {
		pk = o.PK
	}
	if o.GeomCol != "" {
		geom = o.GeomCol
	}
	if o.SRID != "" {
		srid = o.SRID
	}

	var b strings.Builder
	b.WriteString(ti.Ref.String())
	b.WriteByte(' ')
	if names := ti.ColumnNames(); len(names) > 0 {
		if len(names) > maxPreviewColumns {
			names = names[:maxPreviewColumns]
		}
		b.WriteString("(cols: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(") ")
	}
	b.WriteString("| pk=")
	b.WriteString(orUnknown(pk))
	b.WriteString(" | geom=")
	b.WriteString(orUnknown(geom))
	b.WriteString(" | srid=")
	b.WriteString(srid)
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return unknownHint
	}
	return s
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

var _ SchemaContextBuilder = (*schemaContextBuilder)(nil)
