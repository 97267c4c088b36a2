package shape

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func buildZip(t *testing.T, entries map[string]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestExtractArchive(t *testing.T) {
	r := buildZip(t, map[string]string{
		"parcels.shp":          "shp-bytes",
		"parcels.shx":          "shx-bytes",
		"parcels.dbf":          "dbf-bytes",
		"parcels.prj":          wgs84WKT,
		"__MACOSX/parcels.shp": "junk",
	})

	dir := t.TempDir()
	shpPath, err := ExtractArchive(r, r.Size(), dir)
	if err != nil {
		t.Fatalf("ExtractArchive failed: %v", err)
	}
	if filepath.Base(shpPath) != "parcels.shp" {
		t.Errorf("shp path = %s", shpPath)
	}

	data, err := os.ReadFile(shpPath)
	if err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
	if string(data) != "shp-bytes" {
		t.Errorf("extracted content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "__MACOSX")); !os.IsNotExist(err) {
		t.Error("macOS metadata was extracted")
	}
}

func TestExtractArchiveNestedPath(t *testing.T) {
	r := buildZip(t, map[string]string{
		"data/parcels.shp": "shp",
		"data/parcels.shx": "shx",
		"data/parcels.dbf": "dbf",
	})

	dir := t.TempDir()
	shpPath, err := ExtractArchive(r, r.Size(), dir)
	if err != nil {
		t.Fatalf("ExtractArchive failed: %v", err)
	}
	if shpPath != filepath.Join(dir, "data", "parcels.shp") {
		t.Errorf("shp path = %s", shpPath)
	}
	if _, err := os.Stat(shpPath); err != nil {
		t.Errorf("nested file not extracted: %v", err)
	}
}

func TestExtractArchiveMissingComponents(t *testing.T) {
	r := buildZip(t, map[string]string{
		"parcels.shp": "shp",
		"parcels.shx": "shx",
	})

	_, err := ExtractArchive(r, r.Size(), t.TempDir())
	if err == nil {
		t.Fatal("expected an error for a ZIP without .dbf")
	}
	if !strings.Contains(err.Error(), "missing required files") || !strings.Contains(err.Error(), ".dbf") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExtractArchiveMultipleShapefiles(t *testing.T) {
	r := buildZip(t, map[string]string{
		"a.shp": "1", "a.shx": "1", "a.dbf": "1",
		"b.shp": "2", "b.shx": "2", "b.dbf": "2",
	})

	_, err := ExtractArchive(r, r.Size(), t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "multiple .shp") {
		t.Errorf("expected multiple-shapefile error, got %v", err)
	}
}

func TestExtractArchiveInvalidZip(t *testing.T) {
	r := bytes.NewReader([]byte("this is not a zip file"))

	_, err := ExtractArchive(r, r.Size(), t.TempDir())
	if err == nil || err.Error() != "invalid ZIP file" {
		t.Errorf("expected invalid ZIP error, got %v", err)
	}
}

func TestExtractArchiveUnsafePath(t *testing.T) {
	r := buildZip(t, map[string]string{
		"../evil.shp": "shp",
		"evil.shx":    "shx",
		"evil.dbf":    "dbf",
	})

	_, err := ExtractArchive(r, r.Size(), t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "unsafe path") {
		t.Errorf("expected unsafe path error, got %v", err)
	}
}

func TestPackageShapefile(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		if err := os.WriteFile(filepath.Join(dir, "result"+ext), []byte("x"+ext), 0644); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	if err := PackageShapefile(filepath.Join(dir, "result.shp"), &buf); err != nil {
		t.Fatalf("PackageShapefile failed: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("output is not a valid zip: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"result.shp", "result.shx", "result.dbf", "result.prj"} {
		if !names[want] {
			t.Errorf("archive is missing %s (has %v)", want, names)
		}
	}
	if names["result.cpg"] {
		t.Error("archive contains a .cpg that was never written")
	}
}

func TestPackageShapefileMissing(t *testing.T) {
	var buf bytes.Buffer
	err := PackageShapefile(filepath.Join(t.TempDir(), "ghost.shp"), &buf)
	if err == nil {
		t.Fatal("expected an error when no components exist")
	}
}

// Full cycle: write a shapefile, package it, re-extract the archive and
// read it back.
func TestArchiveShapefileCycle(t *testing.T) {
	c := NewCollection([]string{"name"})
	c.AddFeature(NewFeature(square(2, 2, 6), map[string]interface{}{"name": "block"}))
	c.CRS = ParsePRJ(wgs84WKT)

	workDir := t.TempDir()
	shpPath := filepath.Join(workDir, "blocks.shp")
	if err := WriteShapefile(c, shpPath); err != nil {
		t.Fatalf("WriteShapefile failed: %v", err)
	}

	var buf bytes.Buffer
	if err := PackageShapefile(shpPath, &buf); err != nil {
		t.Fatalf("PackageShapefile failed: %v", err)
	}

	r := bytes.NewReader(buf.Bytes())
	extractDir := t.TempDir()
	extracted, err := ExtractArchive(r, r.Size(), extractDir)
	if err != nil {
		t.Fatalf("ExtractArchive failed: %v", err)
	}

	got, err := ReadShapefile(extracted)
	if err != nil {
		t.Fatalf("ReadShapefile failed: %v", err)
	}
	if got.Len() != 1 {
		t.Fatalf("expected 1 feature, got %d", got.Len())
	}
	if got.Features[0].Properties["name"] != "block" {
		t.Errorf("attributes lost: %v", got.Features[0].Properties)
	}
	if got.CRS == nil || got.CRS.EPSG != 4326 {
		t.Errorf("CRS lost: %+v", got.CRS)
	}
}
