package shape

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	proj "github.com/twpayne/go-proj/v10"
)

// CRSInfo describes a coordinate reference system as read from a .prj
// sidecar or assigned by reprojection. EPSG is 0 when no authority code
// could be determined.
type CRSInfo struct {
	EPSG int    `json:"epsg"`
	Name string `json:"name"`
	WKT  string `json:"wkt,omitempty"`
}

// CommonEPSGCodes maps frequently used EPSG codes to a friendly label,
// shown as reprojection suggestions in the UI.
var CommonEPSGCodes = map[int]string{
	4326:  "WGS 84 (GPS coordinates)",
	3857:  "Web Mercator (Google Maps, OpenStreetMap)",
	32643: "WGS 84 / UTM zone 43N (India)",
	32644: "WGS 84 / UTM zone 44N (India)",
	32645: "WGS 84 / UTM zone 45N (India)",
	32646: "WGS 84 / UTM zone 46N (India)",
	2163:  "US National Atlas Equal Area",
	3395:  "World Mercator",
	4269:  "NAD83 (North America)",
	27700: "British National Grid",
	2154:  "RGF93 / Lambert-93 (France)",
	25832: "ETRS89 / UTM zone 32N (Europe)",
	3035:  "ETRS89 / LAEA Europe",
}

// DescribeEPSG returns the friendly label for a code, falling back to the
// bare EPSG notation.
func DescribeEPSG(code int) string {
	if name, ok := CommonEPSGCodes[code]; ok {
		return name
	}
	return fmt.Sprintf("EPSG:%d", code)
}

// Label renders the CRS for report strings and the UI.
func (c *CRSInfo) Label() string {
	if c == nil {
		return "Unknown"
	}
	if c.EPSG > 0 {
		if c.Name != "" {
			return fmt.Sprintf("EPSG:%d (%s)", c.EPSG, c.Name)
		}
		return fmt.Sprintf("EPSG:%d", c.EPSG)
	}
	if c.Name != "" {
		return c.Name
	}
	return "Unknown"
}

// ParsePRJ extracts the CRS name and EPSG code from WKT as found in .prj
// files. Both WKT1 AUTHORITY and WKT2 ID blocks are recognized; the last
// one in the text identifies the CRS itself rather than a nested datum or
// unit. Returns nil for empty input.
func ParsePRJ(wkt string) *CRSInfo {
	wkt = strings.TrimSpace(wkt)
	if wkt == "" {
		return nil
	}
	info := &CRSInfo{WKT: wkt}

	if i := strings.Index(wkt, `["`); i >= 0 {
		rest := wkt[i+2:]
		if j := strings.Index(rest, `"`); j >= 0 {
			info.Name = rest[:j]
		}
	}

	pos := strings.LastIndex(wkt, `AUTHORITY["EPSG"`)
	if p := strings.LastIndex(wkt, `ID["EPSG"`); p > pos {
		pos = p
	}
	if pos >= 0 {
		tail := wkt[pos:]
		tail = tail[strings.Index(tail, `"EPSG"`)+len(`"EPSG"`):]
		var digits strings.Builder
		for _, r := range tail {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
				continue
			}
			if r == ']' {
				break
			}
		}
		if code, err := strconv.Atoi(digits.String()); err == nil {
			info.EPSG = code
		}
	}
	return info
}

// Reproject transforms every geometry of the collection from its source
// CRS into the target EPSG code and returns a new collection. The source
// collection is left untouched; attributes, column order and encoding are
// carried over. When the target equals the source the result is a plain
// copy.
//
// The transformation is axis-normalized so coordinates are always
// easting/northing (longitude/latitude) regardless of the authority's
// axis order.
func Reproject(c *Collection, targetEPSG int) (*Collection, error) {
	if targetEPSG <= 0 {
		return nil, fmt.Errorf("invalid target EPSG code %d", targetEPSG)
	}
	if c.CRS == nil || c.CRS.EPSG == 0 {
		return nil, errors.New("source CRS is unknown, cannot reproject")
	}
	if c.CRS.EPSG == targetEPSG {
		return c.Clone(), nil
	}

	base, err := proj.NewCRSToCRS(
		fmt.Sprintf("EPSG:%d", c.CRS.EPSG),
		fmt.Sprintf("EPSG:%d", targetEPSG),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create transformation to EPSG:%d: %w", targetEPSG, err)
	}
	pj, err := base.NormalizeForVisualization()
	base.Destroy()
	if err != nil {
		return nil, fmt.Errorf("normalize transformation: %w", err)
	}
	defer pj.Destroy()

	out := NewCollection(append([]string(nil), c.Columns...))
	out.Encoding = c.Encoding
	out.CRS = &CRSInfo{EPSG: targetEPSG, Name: CommonEPSGCodes[targetEPSG]}

	for i, f := range c.Features {
		g, err := transformGeometry(pj, f.Geometry)
		if err != nil {
			return nil, &GeometryError{Index: i, OtherIndex: -1, Op: "reproject", Err: err}
		}
		out.AddFeature(&Feature{Geometry: g, Properties: cloneProperties(f.Properties)})
	}
	return out, nil
}

func transformGeometry(pj *proj.PJ, g orb.Geometry) (orb.Geometry, error) {
	switch v := g.(type) {
	case nil:
		return nil, nil
	case orb.Point:
		return transformPoint(pj, v)
	case orb.MultiPoint:
		mp := make(orb.MultiPoint, len(v))
		for i, p := range v {
			tp, err := transformPoint(pj, p)
			if err != nil {
				return nil, err
			}
			mp[i] = tp
		}
		return mp, nil
	case orb.LineString:
		ls, err := transformLine(pj, v)
		if err != nil {
			return nil, err
		}
		return ls, nil
	case orb.MultiLineString:
		mls := make(orb.MultiLineString, len(v))
		for i, ls := range v {
			tl, err := transformLine(pj, ls)
			if err != nil {
				return nil, err
			}
			mls[i] = tl
		}
		return mls, nil
	case orb.Polygon:
		return transformPolygon(pj, v)
	case orb.MultiPolygon:
		mp := make(orb.MultiPolygon, len(v))
		for i, poly := range v {
			tp, err := transformPolygon(pj, poly)
			if err != nil {
				return nil, err
			}
			mp[i] = tp
		}
		return mp, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %s", g.GeoJSONType())
	}
}

func transformPolygon(pj *proj.PJ, poly orb.Polygon) (orb.Polygon, error) {
	out := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		tl, err := transformLine(pj, orb.LineString(ring))
		if err != nil {
			return nil, err
		}
		out[i] = orb.Ring(tl)
	}
	return out, nil
}

func transformLine(pj *proj.PJ, ls orb.LineString) (orb.LineString, error) {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		tp, err := transformPoint(pj, p)
		if err != nil {
			return nil, err
		}
		out[i] = tp
	}
	return out, nil
}

func transformPoint(pj *proj.PJ, p orb.Point) (orb.Point, error) {
	coord, err := pj.Forward(proj.NewCoord(p[0], p[1], 0, 0))
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{coord.X(), coord.Y()}, nil
}
