package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/shapekit/shapekit/shape"
)

const testWKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

// Helper function to build a square parcel polygon
func parcel(x, y, side float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y},
		{x + side, y},
		{x + side, y + side},
		{x, y + side},
		{x, y},
	}}
}

// Helper function to build a small parcel collection
func testCollection(geoms ...orb.Geometry) *shape.Collection {
	c := shape.NewCollection([]string{"name"})
	for i, g := range geoms {
		c.AddFeature(shape.NewFeature(g, map[string]interface{}{
			"name": fmt.Sprintf("parcel-%d", i),
		}))
	}
	c.CRS = shape.ParsePRJ(testWKT)
	return c
}

// Helper function to package a collection as a shapefile ZIP on disk
func writeTestZip(t *testing.T, c *shape.Collection, path string) {
	t.Helper()
	tmp := t.TempDir()
	base := strings.TrimSuffix(filepath.Base(path), ".zip")
	shpPath := filepath.Join(tmp, base+".shp")
	if err := shape.WriteShapefile(c, shpPath); err != nil {
		t.Fatalf("WriteShapefile failed: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := shape.PackageShapefile(shpPath, f); err != nil {
		t.Fatalf("PackageShapefile failed: %v", err)
	}
}

func TestNewApp(t *testing.T) {
	app := NewApp()
	if app == nil {
		t.Fatal("NewApp returned nil")
	}
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	opts := AppOptions{
		ConfigFile:          "test-config.yaml",
		Input:               "parcels.zip",
		Output:              "out.zip",
		AreaTolerancePct:    0.5,
		OverlapThresholdPct: 99.5,
		KeepLast:            true,
		TargetEPSG:          3857,
		Separator:           ";",
		Columns:             "name,area",
		IncludeGeometry:     true,
		Sheet:               "Parcels",
		Format:              "geojson",
		HttpPort:            8080,
	}

	app.ApplyOptions(opts)

	if app.ConfigFile != "test-config.yaml" {
		t.Errorf("ConfigFile = %s, want test-config.yaml", app.ConfigFile)
	}
	if app.Input != "parcels.zip" {
		t.Errorf("Input = %s, want parcels.zip", app.Input)
	}
	if app.Output != "out.zip" {
		t.Errorf("Output = %s, want out.zip", app.Output)
	}
	if app.AreaTolerancePct != 0.5 {
		t.Errorf("AreaTolerancePct = %f, want 0.5", app.AreaTolerancePct)
	}
	if app.OverlapThresholdPct != 99.5 {
		t.Errorf("OverlapThresholdPct = %f, want 99.5", app.OverlapThresholdPct)
	}
	if !app.KeepLast {
		t.Error("KeepLast should be true")
	}
	if app.TargetEPSG != 3857 {
		t.Errorf("TargetEPSG = %d, want 3857", app.TargetEPSG)
	}
	if app.Separator != ";" {
		t.Errorf("Separator = %s, want ;", app.Separator)
	}
	if app.Columns != "name,area" {
		t.Errorf("Columns = %s, want name,area", app.Columns)
	}
	if !app.IncludeGeometry {
		t.Error("IncludeGeometry should be true")
	}
	if app.Sheet != "Parcels" {
		t.Errorf("Sheet = %s, want Parcels", app.Sheet)
	}
	if app.Format != "geojson" {
		t.Errorf("Format = %s, want geojson", app.Format)
	}
	if app.HttpPort != 8080 {
		t.Errorf("HttpPort = %d, want 8080", app.HttpPort)
	}
}

func TestApplyOptions_AllDefaults(t *testing.T) {
	app := NewApp()
	opts := AppOptions{}

	app.ApplyOptions(opts)

	// Verify all fields are set to their zero values
	if app.Input != "" {
		t.Errorf("Input = %s, want empty string", app.Input)
	}
	if app.TargetEPSG != 0 {
		t.Errorf("TargetEPSG = %d, want 0", app.TargetEPSG)
	}
	if app.HttpPort != 0 {
		t.Errorf("HttpPort = %d, want 0", app.HttpPort)
	}
}

func TestLoadInput_Empty(t *testing.T) {
	app := NewApp()
	_, _, err := app.loadInput("")
	if err == nil {
		t.Fatal("expected error for empty input path")
	}
	if !strings.Contains(err.Error(), "-input") {
		t.Errorf("expected error to mention -input, got: %v", err)
	}
}

func TestLoadInput_Zip(t *testing.T) {
	app := NewApp()
	zipPath := filepath.Join(t.TempDir(), "parcels.zip")
	writeTestZip(t, testCollection(parcel(0, 0, 10), parcel(20, 0, 10)), zipPath)

	c, base, err := app.loadInput(zipPath)
	if err != nil {
		t.Fatalf("loadInput failed: %v", err)
	}
	if base != "parcels" {
		t.Errorf("base = %s, want parcels", base)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 features, got %d", c.Len())
	}
	if c.CRS == nil || c.CRS.EPSG != 4326 {
		t.Errorf("expected EPSG:4326 from the .prj sidecar, got %v", c.CRS)
	}
}

func TestLoadInput_Shp(t *testing.T) {
	app := NewApp()
	shpPath := filepath.Join(t.TempDir(), "parcels.shp")
	if err := shape.WriteShapefile(testCollection(parcel(0, 0, 10)), shpPath); err != nil {
		t.Fatalf("WriteShapefile failed: %v", err)
	}

	c, base, err := app.loadInput(shpPath)
	if err != nil {
		t.Fatalf("loadInput failed: %v", err)
	}
	if base != "parcels" {
		t.Errorf("base = %s, want parcels", base)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 feature, got %d", c.Len())
	}
}

func TestWriteCollection_Formats(t *testing.T) {
	app := NewApp()
	c := testCollection(parcel(0, 0, 10), parcel(20, 0, 10))

	t.Run("zip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.zip")
		if err := app.writeCollection(c, path); err != nil {
			t.Fatalf("writeCollection failed: %v", err)
		}
		got, _, err := app.loadInput(path)
		if err != nil {
			t.Fatalf("reading the written zip back failed: %v", err)
		}
		if got.Len() != 2 {
			t.Errorf("expected 2 features, got %d", got.Len())
		}
	})

	t.Run("shp", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.shp")
		if err := app.writeCollection(c, path); err != nil {
			t.Fatalf("writeCollection failed: %v", err)
		}
		got, err := shape.ReadShapefile(path)
		if err != nil {
			t.Fatalf("reading the written shapefile back failed: %v", err)
		}
		if got.Len() != 2 {
			t.Errorf("expected 2 features, got %d", got.Len())
		}
	})

	t.Run("geojson", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.geojson")
		if err := app.writeCollection(c, path); err != nil {
			t.Fatalf("writeCollection failed: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading %s failed: %v", path, err)
		}
		if !strings.Contains(string(data), "FeatureCollection") {
			t.Errorf("expected a GeoJSON FeatureCollection, got: %.100s", data)
		}
	})

	t.Run("csv", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.csv")
		if err := app.writeCollection(c, path); err != nil {
			t.Fatalf("writeCollection failed: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading %s failed: %v", path, err)
		}
		if !strings.Contains(string(data), "parcel-0") {
			t.Errorf("expected attribute rows in CSV, got: %.100s", data)
		}
	})
}

func TestWriteCollection_UnsupportedExtension(t *testing.T) {
	app := NewApp()
	err := app.writeCollection(testCollection(parcel(0, 0, 10)), filepath.Join(t.TempDir(), "out.gpkg"))
	if err == nil {
		t.Fatal("expected error for unsupported extension")
	}
	if !strings.Contains(err.Error(), "unsupported output format") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCSVOptions(t *testing.T) {
	app := NewApp()
	app.Separator = ";"
	app.Columns = "name, area"
	app.IncludeGeometry = true

	opts := app.csvOptions()
	if opts.Separator != ';' {
		t.Errorf("Separator = %q, want ';'", opts.Separator)
	}
	if len(opts.Columns) != 2 || opts.Columns[0] != "name" || opts.Columns[1] != "area" {
		t.Errorf("Columns = %v, want [name area]", opts.Columns)
	}
	if !opts.IncludeGeometry {
		t.Error("IncludeGeometry should be true")
	}
}

func TestDedupeOptions(t *testing.T) {
	app := NewApp()
	app.AreaTolerancePct = 1.5
	app.OverlapThresholdPct = 98
	app.KeepLast = true

	opts := app.dedupeOptions()
	if opts.AreaTolerancePct != 1.5 {
		t.Errorf("AreaTolerancePct = %f, want 1.5", opts.AreaTolerancePct)
	}
	if opts.OverlapThresholdPct != 98 {
		t.Errorf("OverlapThresholdPct = %f, want 98", opts.OverlapThresholdPct)
	}
	if opts.KeepFirst {
		t.Error("KeepFirst should be false when KeepLast is set")
	}
}

func TestRunDedupe_RemovesDuplicates(t *testing.T) {
	tmpDir := t.TempDir()
	zipPath := filepath.Join(tmpDir, "parcels.zip")
	writeTestZip(t, testCollection(
		parcel(0, 0, 10),
		parcel(0, 0, 10),
		parcel(50, 50, 10),
	), zipPath)

	app := NewApp()
	app.ApplyOptions(AppOptions{
		Input:               zipPath,
		Output:              filepath.Join(tmpDir, "out.zip"),
		OverlapThresholdPct: 100,
	})
	app.RunDedupe()

	got, _, err := app.loadInput(filepath.Join(tmpDir, "out.zip"))
	if err != nil {
		t.Fatalf("reading dedupe output failed: %v", err)
	}
	if got.Len() != 2 {
		t.Errorf("expected 2 surviving features, got %d", got.Len())
	}
}

func TestRunMerge_CombinesInputs(t *testing.T) {
	tmpDir := t.TempDir()
	pathA := filepath.Join(tmpDir, "a.zip")
	pathB := filepath.Join(tmpDir, "b.zip")
	writeTestZip(t, testCollection(parcel(0, 0, 10), parcel(20, 0, 10)), pathA)
	writeTestZip(t, testCollection(parcel(40, 0, 10)), pathB)

	app := NewApp()
	app.ApplyOptions(AppOptions{
		Input:  pathA + "," + pathB,
		Output: filepath.Join(tmpDir, "merged.zip"),
	})
	app.RunMerge()

	got, _, err := app.loadInput(filepath.Join(tmpDir, "merged.zip"))
	if err != nil {
		t.Fatalf("reading merge output failed: %v", err)
	}
	if got.Len() != 3 {
		t.Errorf("expected 3 features, got %d", got.Len())
	}
}

func TestRunExportCSV_WritesRows(t *testing.T) {
	tmpDir := t.TempDir()
	zipPath := filepath.Join(tmpDir, "parcels.zip")
	writeTestZip(t, testCollection(parcel(0, 0, 10), parcel(20, 0, 10)), zipPath)

	outPath := filepath.Join(tmpDir, "parcels.csv")
	app := NewApp()
	app.ApplyOptions(AppOptions{Input: zipPath, Output: outPath})
	app.RunExportCSV()

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading CSV output failed: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "name") {
		t.Errorf("expected header row, got: %.60s", content)
	}
	if !strings.Contains(content, "parcel-1") {
		t.Errorf("expected attribute rows, got: %.200s", content)
	}
}

func TestRunInfo_PrintsSummary(t *testing.T) {
	tmpDir := t.TempDir()
	zipPath := filepath.Join(tmpDir, "parcels.zip")
	writeTestZip(t, testCollection(parcel(0, 0, 10)), zipPath)

	app := NewApp()
	app.ApplyOptions(AppOptions{Input: zipPath})

	// Should not fatal on a valid dataset
	app.RunInfo()
}
