package shape

import (
	"fmt"
	"os"
	"strconv"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

type columnKind int

const (
	kindString columnKind = iota
	kindFloat
	kindInt
	kindBool
)

// WriteShapefile writes the collection to path as a shapefile. The .shp,
// .shx and .dbf files are always produced; .prj and .cpg sidecars are
// written when the collection carries a CRS WKT or an encoding. Shapefiles
// hold a single geometry family, so mixed collections are rejected.
func WriteShapefile(c *Collection, path string) error {
	shapeType, err := collectionShapeType(c)
	if err != nil {
		return err
	}

	w, err := shp.Create(path, shapeType)
	if err != nil {
		return fmt.Errorf("create shapefile: %w", err)
	}

	kinds := classifyColumns(c)
	fields := make([]shp.Field, len(c.Columns))
	for i, col := range c.Columns {
		fields[i] = fieldFor(col, kinds[i], columnWidth(c, col))
	}
	w.SetFields(fields)

	for i, f := range c.Features {
		s, err := geometryToShape(f.Geometry, shapeType)
		if err != nil {
			w.Close()
			return fmt.Errorf("record %d: %w", i, err)
		}
		w.Write(s)
		for fi, col := range c.Columns {
			w.WriteAttribute(i, fi, encodeAttribute(kinds[fi], f.Properties[col]))
		}
	}
	w.Close()

	if c.CRS != nil && c.CRS.WKT != "" {
		if err := os.WriteFile(sidecarPath(path, ".prj"), []byte(c.CRS.WKT), 0644); err != nil {
			return fmt.Errorf("write .prj: %w", err)
		}
	}
	if c.Encoding != "" {
		if err := os.WriteFile(sidecarPath(path, ".cpg"), []byte(c.Encoding), 0644); err != nil {
			return fmt.Errorf("write .cpg: %w", err)
		}
	}
	return nil
}

// collectionShapeType picks the shapefile geometry type from the first
// feature with a geometry. Empty collections default to POLYGON.
func collectionShapeType(c *Collection) (shp.ShapeType, error) {
	chosen := shp.NULL
	for i, f := range c.Features {
		if f.Geometry == nil {
			continue
		}
		var t shp.ShapeType
		switch f.Geometry.(type) {
		case orb.Point:
			t = shp.POINT
		case orb.MultiPoint:
			t = shp.MULTIPOINT
		case orb.LineString, orb.MultiLineString:
			t = shp.POLYLINE
		case orb.Polygon, orb.MultiPolygon:
			t = shp.POLYGON
		default:
			return 0, fmt.Errorf("feature %d: cannot write %s to a shapefile", i, f.Geometry.GeoJSONType())
		}
		if chosen == shp.NULL {
			chosen = t
		} else if chosen != t {
			return 0, fmt.Errorf("feature %d: mixed geometry types %v and %v in one shapefile", i, chosen, t)
		}
	}
	if chosen == shp.NULL {
		chosen = shp.POLYGON
	}
	return chosen, nil
}

func geometryToShape(g orb.Geometry, t shp.ShapeType) (shp.Shape, error) {
	if g == nil {
		return &shp.Null{}, nil
	}
	switch v := g.(type) {
	case orb.Point:
		return &shp.Point{X: v[0], Y: v[1]}, nil
	case orb.MultiPoint:
		pts := toShpPoints(v)
		return &shp.MultiPoint{Box: pointsBox(pts), NumPoints: int32(len(pts)), Points: pts}, nil
	case orb.LineString:
		return lineShape([]orb.LineString{v}), nil
	case orb.MultiLineString:
		return lineShape(v), nil
	case orb.Polygon:
		return polygonShape([]orb.Polygon{v}), nil
	case orb.MultiPolygon:
		return polygonShape(v), nil
	default:
		return nil, fmt.Errorf("cannot write %s to a shapefile", g.GeoJSONType())
	}
}

func lineShape(lines []orb.LineString) *shp.PolyLine {
	var parts []int32
	var pts []shp.Point
	for _, ls := range lines {
		parts = append(parts, int32(len(pts)))
		for _, p := range ls {
			pts = append(pts, shp.Point{X: p[0], Y: p[1]})
		}
	}
	return &shp.PolyLine{
		Box:       pointsBox(pts),
		NumParts:  int32(len(parts)),
		NumPoints: int32(len(pts)),
		Parts:     parts,
		Points:    pts,
	}
}

// polygonShape flattens polygons into shapefile parts, restoring the
// shapefile winding convention: outer rings clockwise, holes
// counter-clockwise. Rings are cloned before any reversal so the input
// geometry is left untouched, and open rings are closed.
func polygonShape(polys []orb.Polygon) *shp.Polygon {
	var parts []int32
	var pts []shp.Point
	for _, poly := range polys {
		for ri, ring := range poly {
			r := ring.Clone()
			if ri == 0 {
				if r.Orientation() == orb.CCW {
					r.Reverse()
				}
			} else {
				if r.Orientation() == orb.CW {
					r.Reverse()
				}
			}
			if len(r) > 0 && r[0] != r[len(r)-1] {
				r = append(r, r[0])
			}
			parts = append(parts, int32(len(pts)))
			for _, p := range r {
				pts = append(pts, shp.Point{X: p[0], Y: p[1]})
			}
		}
	}
	return &shp.Polygon{
		Box:       pointsBox(pts),
		NumParts:  int32(len(parts)),
		NumPoints: int32(len(pts)),
		Parts:     parts,
		Points:    pts,
	}
}

func toShpPoints(mp orb.MultiPoint) []shp.Point {
	pts := make([]shp.Point, 0, len(mp))
	for _, p := range mp {
		pts = append(pts, shp.Point{X: p[0], Y: p[1]})
	}
	return pts
}

func pointsBox(pts []shp.Point) shp.Box {
	if len(pts) == 0 {
		return shp.Box{}
	}
	b := shp.Box{MinX: pts[0].X, MinY: pts[0].Y, MaxX: pts[0].X, MaxY: pts[0].Y}
	for _, p := range pts[1:] {
		if p.X < b.MinX {
			b.MinX = p.X
		}
		if p.Y < b.MinY {
			b.MinY = p.Y
		}
		if p.X > b.MaxX {
			b.MaxX = p.X
		}
		if p.Y > b.MaxY {
			b.MaxY = p.Y
		}
	}
	return b
}

// classifyColumns picks a DBF type per column by scanning its values.
// Columns that only hold booleans become logical fields, numeric columns
// become number or float fields, everything else is text.
func classifyColumns(c *Collection) []columnKind {
	kinds := make([]columnKind, len(c.Columns))
	for ci, col := range c.Columns {
		sawBool, sawFloat, sawOther, integral := false, false, false, true
		for _, f := range c.Features {
			switch v := f.Properties[col].(type) {
			case nil:
			case bool:
				sawBool = true
			case float64:
				sawFloat = true
				if v != float64(int64(v)) {
					integral = false
				}
			default:
				sawOther = true
			}
		}
		switch {
		case sawOther, sawBool && sawFloat:
			kinds[ci] = kindString
		case sawBool:
			kinds[ci] = kindBool
		case sawFloat && integral:
			kinds[ci] = kindInt
		case sawFloat:
			kinds[ci] = kindFloat
		default:
			kinds[ci] = kindString
		}
	}
	return kinds
}

func columnWidth(c *Collection, col string) int {
	width := 80
	for _, f := range c.Features {
		if s, ok := f.Properties[col].(string); ok && len(s) > width {
			width = len(s)
		}
	}
	if width > 254 {
		width = 254
	}
	return width
}

// fieldFor builds the DBF field descriptor. Field names are truncated to
// the 10-character DBF limit.
func fieldFor(name string, kind columnKind, width int) shp.Field {
	if len(name) > 10 {
		name = name[:10]
	}
	switch kind {
	case kindBool:
		f := shp.Field{Fieldtype: 'L', Size: 1}
		copy(f.Name[:], name)
		return f
	case kindInt:
		return shp.NumberField(name, 18)
	case kindFloat:
		return shp.FloatField(name, 24, 15)
	default:
		return shp.StringField(name, uint8(width))
	}
}

func encodeAttribute(kind columnKind, v interface{}) interface{} {
	if v == nil {
		return ""
	}
	switch kind {
	case kindBool:
		if v == true {
			return "T"
		}
		return "F"
	case kindInt:
		if f, ok := v.(float64); ok {
			return int(f)
		}
	case kindFloat:
		if f, ok := v.(float64); ok {
			return f
		}
	}
	switch t := v.(type) {
	case string:
		if len(t) > 254 {
			return t[:254]
		}
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
