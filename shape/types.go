package shape

import (
	"math"

	"github.com/mohae/deepcopy"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Feature is a single geometry with its attribute record. Attribute values
// are carried through tools untouched; the supported value types are
// string, float64, bool and nil.
type Feature struct {
	Geometry   orb.Geometry
	Properties map[string]interface{}
}

// NewFeature creates a feature with the given geometry and properties.
// A nil properties map is replaced with an empty one.
func NewFeature(geometry orb.Geometry, properties map[string]interface{}) *Feature {
	if properties == nil {
		properties = make(map[string]interface{})
	}
	return &Feature{
		Geometry:   geometry,
		Properties: properties,
	}
}

// Collection is an ordered sequence of features sharing one coordinate
// reference system. A feature's index in Features is its identity for the
// duration of a tool run; order is input order and breaks "first
// occurrence" ties.
type Collection struct {
	Features []*Feature
	// Columns is the attribute column order from the source table. Tools
	// that add columns keep it sorted and stable so exports are predictable.
	Columns  []string
	CRS      *CRSInfo // nil when the source carried no CRS definition
	Encoding string   // character encoding from a .cpg sidecar, empty if none
}

// NewCollection creates an empty collection with the given column order.
func NewCollection(columns []string) *Collection {
	return &Collection{
		Features: []*Feature{},
		Columns:  columns,
	}
}

// AddFeature appends a feature to the collection.
func (c *Collection) AddFeature(f *Feature) {
	c.Features = append(c.Features, f)
}

// Len returns the number of features.
func (c *Collection) Len() int {
	return len(c.Features)
}

// Clone returns a deep copy of the feature.
func (f *Feature) Clone() *Feature {
	var g orb.Geometry
	if f.Geometry != nil {
		g = orb.Clone(f.Geometry)
	}
	return &Feature{Geometry: g, Properties: cloneProperties(f.Properties)}
}

// Clone returns a deep copy of the collection.
func (c *Collection) Clone() *Collection {
	out := &Collection{
		Features: make([]*Feature, 0, len(c.Features)),
		Columns:  append([]string(nil), c.Columns...),
		Encoding: c.Encoding,
	}
	if c.CRS != nil {
		crs := *c.CRS
		out.CRS = &crs
	}
	for _, f := range c.Features {
		out.Features = append(out.Features, f.Clone())
	}
	return out
}

func cloneProperties(props map[string]interface{}) map[string]interface{} {
	if props == nil {
		return make(map[string]interface{})
	}
	return deepcopy.Copy(props).(map[string]interface{})
}

// Bound returns the bounding box of all feature geometries. Returns a zero
// bound for an empty collection.
func (c *Collection) Bound() orb.Bound {
	var b orb.Bound
	first := true
	for _, f := range c.Features {
		if f.Geometry == nil {
			continue
		}
		if first {
			b = f.Geometry.Bound()
			first = false
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}

// GeometryTypes returns a count of features per GeoJSON geometry type.
// Features without geometry are counted under "None".
func (c *Collection) GeometryTypes() map[string]int {
	counts := make(map[string]int)
	for _, f := range c.Features {
		if f.Geometry == nil {
			counts["None"]++
			continue
		}
		counts[f.Geometry.GeoJSONType()]++
	}
	return counts
}

// TotalArea returns the summed absolute planar area of all feature
// geometries, in squared CRS units.
func (c *Collection) TotalArea() float64 {
	var total float64
	for _, f := range c.Features {
		if f.Geometry == nil {
			continue
		}
		total += math.Abs(planar.Area(f.Geometry))
	}
	return total
}

// isPolygonal reports whether g is a Polygon or MultiPolygon.
func isPolygonal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	}
	return false
}

// ValidatePolygonal checks that every feature carries a Polygon or
// MultiPolygon geometry. The first offending feature is reported as a
// ValidationError; nil means the collection is fit for polygon tools.
func ValidatePolygonal(c *Collection) error {
	for i, f := range c.Features {
		if f.Geometry == nil {
			return &ValidationError{Index: i}
		}
		if !isPolygonal(f.Geometry) {
			return &ValidationError{Index: i, GeometryType: f.Geometry.GeoJSONType()}
		}
	}
	return nil
}
