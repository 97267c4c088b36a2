package shape

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// CSVOptions control attribute export.
type CSVOptions struct {
	// Separator defaults to a comma when zero.
	Separator rune
	// Columns selects a subset of attribute columns; nil exports all.
	Columns []string
	// IncludeGeometry appends a "geometry" column holding WKT.
	IncludeGeometry bool
}

// WriteCSV exports the collection's attribute table. Geometry is optional
// and rendered as WKT in a trailing "geometry" column; features without
// geometry leave it empty.
func WriteCSV(c *Collection, w io.Writer, opts CSVOptions) error {
	cols := opts.Columns
	if cols == nil {
		cols = c.Columns
	} else {
		known := make(map[string]bool, len(c.Columns))
		for _, col := range c.Columns {
			known[col] = true
		}
		for _, col := range cols {
			if !known[col] {
				return fmt.Errorf("unknown column %q", col)
			}
		}
	}

	cw := csv.NewWriter(w)
	if opts.Separator != 0 {
		cw.Comma = opts.Separator
	}

	header := append([]string(nil), cols...)
	if opts.IncludeGeometry {
		header = append(header, "geometry")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}

	row := make([]string, len(header))
	for _, f := range c.Features {
		for i, col := range cols {
			row[i] = formatCSVValue(f.Properties[col])
		}
		if opts.IncludeGeometry {
			if f.Geometry != nil {
				row[len(row)-1] = wkt.MarshalString(f.Geometry)
			} else {
				row[len(row)-1] = ""
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatCSVValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// WriteGeoJSON exports the collection as a GeoJSON FeatureCollection.
func WriteGeoJSON(c *Collection, w io.Writer) error {
	fc := geojson.NewFeatureCollection()
	for _, f := range c.Features {
		gf := geojson.NewFeature(f.Geometry)
		if f.Properties != nil {
			gf.Properties = geojson.Properties(f.Properties)
		}
		fc.Append(gf)
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("marshal GeoJSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write GeoJSON: %w", err)
	}
	return nil
}
