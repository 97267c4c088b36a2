package shape

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/twpayne/go-geos"
)

// geomCache holds the per-run GEOS handles and cached planar areas for one
// collection. GEOS reports failures on malformed geometry by panicking, so
// every call into it goes through a capture wrapper that turns the panic
// into an error. The cache is built once at the start of a run and must be
// destroyed when the run returns.
type geomCache struct {
	geoms []*geos.Geom
	areas []float64
}

// newGeomCache converts every feature geometry to a GEOS geometry and
// computes its planar area. Conversion or area failure on feature i is
// returned as a GeometryError for i; any handles created so far are
// released before returning.
func newGeomCache(c *Collection) (*geomCache, error) {
	cache := &geomCache{
		geoms: make([]*geos.Geom, c.Len()),
		areas: make([]float64, c.Len()),
	}
	for i, f := range c.Features {
		g, err := geosFromOrb(f.Geometry)
		if err != nil {
			cache.destroy()
			return nil, &GeometryError{Index: i, OtherIndex: -1, Op: "convert", Err: err}
		}
		cache.geoms[i] = g
		area, err := safeArea(g)
		if err != nil {
			cache.destroy()
			return nil, &GeometryError{Index: i, OtherIndex: -1, Op: "area", Err: err}
		}
		cache.areas[i] = area
	}
	return cache, nil
}

// destroy releases all GEOS handles held by the cache.
func (gc *geomCache) destroy() {
	for i, g := range gc.geoms {
		if g != nil {
			g.Destroy()
			gc.geoms[i] = nil
		}
	}
}

// overlapArea computes the exact intersection of geometries i and j and
// returns its area. empty is true when the geometries do not intersect at
// all.
func (gc *geomCache) overlapArea(i, j int) (area float64, empty bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("geos: %v", r)
		}
	}()
	inter := gc.geoms[i].Intersection(gc.geoms[j])
	defer inter.Destroy()
	if inter.IsEmpty() {
		return 0, true, nil
	}
	return inter.Area(), false, nil
}

// geosFromOrb converts an orb geometry to a GEOS geometry by round-tripping
// through its GeoJSON encoding.
func geosFromOrb(g orb.Geometry) (*geos.Geom, error) {
	if g == nil {
		return nil, fmt.Errorf("no geometry")
	}
	data, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return nil, fmt.Errorf("encode geometry: %w", err)
	}
	geom, err := geos.NewGeomFromGeoJSON(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse geometry: %w", err)
	}
	return geom, nil
}

// safeArea computes the planar area of a GEOS geometry with panic capture.
func safeArea(g *geos.Geom) (area float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("geos: %v", r)
		}
	}()
	return g.Area(), nil
}
