package shape

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// ReadShapefile loads a shapefile and its sidecar files into a Collection.
// The path must point at the .shp file; the .dbf is read through the same
// reader, .prj and .cpg siblings are picked up when present.
func ReadShapefile(path string) (*Collection, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	fields := r.Fields()
	columns := make([]string, len(fields))
	for i := range fields {
		columns[i] = fields[i].String()
	}

	c := NewCollection(columns)
	c.CRS = readProjection(path)
	c.Encoding = readCodePage(path)

	for r.Next() {
		row, s := r.Shape()
		g, err := shapeToGeometry(s)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", row, err)
		}
		props := make(map[string]interface{}, len(fields))
		for fi := range fields {
			props[columns[fi]] = decodeAttribute(fields[fi], r.ReadAttribute(row, fi))
		}
		c.AddFeature(&Feature{Geometry: g, Properties: props})
	}

	return c, nil
}

// readProjection parses the sidecar .prj file, if any.
func readProjection(shpPath string) *CRSInfo {
	data, err := os.ReadFile(sidecarPath(shpPath, ".prj"))
	if err != nil {
		return nil
	}
	return ParsePRJ(strings.TrimSpace(string(data)))
}

// readCodePage returns the declared character encoding from the sidecar
// .cpg file, or an empty string.
func readCodePage(shpPath string) string {
	data, err := os.ReadFile(sidecarPath(shpPath, ".cpg"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func sidecarPath(shpPath, ext string) string {
	return strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ext
}

// shapeToGeometry converts a shapefile record into an orb geometry. Z and M
// variants are flattened to 2D. Null shapes yield a nil geometry.
func shapeToGeometry(s shp.Shape) (orb.Geometry, error) {
	switch v := s.(type) {
	case *shp.Null:
		return nil, nil
	case *shp.Point:
		return orb.Point{v.X, v.Y}, nil
	case *shp.PointZ:
		return orb.Point{v.X, v.Y}, nil
	case *shp.PointM:
		return orb.Point{v.X, v.Y}, nil
	case *shp.MultiPoint:
		return multiPointGeometry(v.Points), nil
	case *shp.MultiPointZ:
		return multiPointGeometry(v.Points), nil
	case *shp.MultiPointM:
		return multiPointGeometry(v.Points), nil
	case *shp.PolyLine:
		return lineGeometry(v.Parts, v.Points), nil
	case *shp.PolyLineZ:
		return lineGeometry(v.Parts, v.Points), nil
	case *shp.PolyLineM:
		return lineGeometry(v.Parts, v.Points), nil
	case *shp.Polygon:
		return polygonGeometry(v.Parts, v.Points), nil
	case *shp.PolygonZ:
		return polygonGeometry(v.Parts, v.Points), nil
	case *shp.PolygonM:
		return polygonGeometry(v.Parts, v.Points), nil
	default:
		return nil, fmt.Errorf("unsupported shape type %T", s)
	}
}

func multiPointGeometry(points []shp.Point) orb.Geometry {
	mp := make(orb.MultiPoint, 0, len(points))
	for _, p := range points {
		mp = append(mp, orb.Point{p.X, p.Y})
	}
	return mp
}

func lineGeometry(parts []int32, points []shp.Point) orb.Geometry {
	rings := splitParts(parts, points)
	if len(rings) == 0 {
		return nil
	}
	if len(rings) == 1 {
		return orb.LineString(rings[0])
	}
	mls := make(orb.MultiLineString, 0, len(rings))
	for _, r := range rings {
		mls = append(mls, orb.LineString(r))
	}
	return mls
}

// polygonGeometry reassembles shapefile rings into polygons. Shapefiles
// store outer rings clockwise and holes counter-clockwise; each hole
// belongs to the most recently seen outer ring. Winding is flipped to the
// GeoJSON convention on the way in.
func polygonGeometry(parts []int32, points []shp.Point) orb.Geometry {
	var polys []orb.Polygon
	for _, pts := range splitParts(parts, points) {
		ring := orb.Ring(pts)
		outer := ring.Orientation() != orb.CCW
		ring.Reverse()
		if outer || len(polys) == 0 {
			polys = append(polys, orb.Polygon{ring})
		} else {
			polys[len(polys)-1] = append(polys[len(polys)-1], ring)
		}
	}
	if len(polys) == 0 {
		return nil
	}
	if len(polys) == 1 {
		return polys[0]
	}
	return orb.MultiPolygon(polys)
}

func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for k, start := range parts {
		end := len(points)
		if k+1 < len(parts) {
			end = int(parts[k+1])
		}
		if int(start) < 0 || int(start) > end || end > len(points) {
			continue
		}
		ring := make([]orb.Point, 0, end-int(start))
		for _, p := range points[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		out = append(out, ring)
	}
	return out
}

// decodeAttribute maps a raw DBF value onto the collection value model:
// string, float64, bool or nil.
func decodeAttribute(f shp.Field, raw string) interface{} {
	val := strings.Trim(raw, "\x00 ")
	switch f.Fieldtype {
	case 'N', 'F':
		if val == "" {
			return nil
		}
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return val
		}
		return n
	case 'L':
		switch val {
		case "T", "t", "Y", "y":
			return true
		case "F", "f", "N", "n":
			return false
		default:
			return nil
		}
	default:
		if val == "" {
			return nil
		}
		return val
	}
}
