package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ekaya-inc/geosql-gateway/pkg/models"
)

// DescribeTable renders a one-line structural summary of a table: typed
// columns with key markers, geometry metadata and spatial indexes.
func DescribeTable(ti *models.TableInfo) string {
	cols := make([]string, len(ti.Columns))
	for i, c := range ti.Columns {
		cols[i] = c.Name + ":" + c.DataType
		if c.IsPrimaryKey {
			cols[i] += " PK"
		}
	}

	geom := "geom=unk"
	if g := ti.Geometry; g != nil {
		srid, gtype := "unk", "unk"
		if g.SRID != nil {
			srid = strconv.Itoa(*g.SRID)
		}
		if g.GeometryType != nil {
			gtype = *g.GeometryType
		}
		geom = fmt.Sprintf("geom=%s srid=%s type=%s", g.Column, srid, gtype)
	}

	var spatial []string
	for _, idx := range ti.Indexes {
		if idx.IsSpatial() {
			spatial = append(spatial, idx.AccessMethod+":"+strings.Join(idx.Columns, ","))
		}
	}
	indexes := "no_spatial_index"
	if len(spatial) > 0 {
		indexes = strings.Join(spatial, "; ")
	}

	return fmt.Sprintf("- %s: [%s] | %s | idx(%s)", ti.Ref, strings.Join(cols, ", "), geom, indexes)
}
