package shape

import "fmt"

// ValidationError reports an input feature whose geometry type is not
// supported by a polygon tool. It is returned before any processing starts.
type ValidationError struct {
	Index        int    // position of the offending feature in the collection
	GeometryType string // GeoJSON type name, empty when the geometry is missing
}

func (e *ValidationError) Error() string {
	if e.GeometryType == "" {
		return fmt.Sprintf("feature %d has no geometry: only Polygon and MultiPolygon geometries are supported", e.Index)
	}
	return fmt.Sprintf("feature %d has geometry type %s: only Polygon and MultiPolygon geometries are supported", e.Index, e.GeometryType)
}

// GeometryError reports a failed geometric operation. The run that produced
// it is aborted with no partial output.
type GeometryError struct {
	Index      int    // feature the operation was applied to
	OtherIndex int    // second feature for pairwise operations, -1 otherwise
	Op         string // "convert", "area" or "intersection"
	Err        error
}

func (e *GeometryError) Error() string {
	if e.OtherIndex >= 0 {
		return fmt.Sprintf("geometry %s failed for features %d and %d: %v", e.Op, e.Index, e.OtherIndex, e.Err)
	}
	return fmt.Sprintf("geometry %s failed for feature %d: %v", e.Op, e.Index, e.Err)
}

func (e *GeometryError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports a tool parameter outside its allowed range.
// It is returned before the scan begins.
type ConfigurationError struct {
	Param string
	Value float64
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s must be between 0 and 100, got %g", e.Param, e.Value)
}
