package shape

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// requiredShapefileExts are the components an uploaded archive must
// contain. Sidecars like .prj, .cpg, .sbn or .sbx ride along when present.
var requiredShapefileExts = []string{".shp", ".shx", ".dbf"}

// packagedShapefileExts are the components bundled into download archives.
var packagedShapefileExts = []string{".shp", ".shx", ".dbf", ".prj", ".cpg"}

// ExtractArchive validates and unpacks a zipped shapefile into destDir and
// returns the path of the extracted .shp file. macOS metadata entries and
// directories are ignored. The archive must contain .shp, .shx and .dbf
// components and exactly one .shp.
func ExtractArchive(r io.ReaderAt, size int64, destDir string) (string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return "", errors.New("invalid ZIP file")
	}

	var files []*zip.File
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "__MACOSX") || strings.HasSuffix(f.Name, "/") {
			continue
		}
		files = append(files, f)
	}

	present := make(map[string]bool)
	var shpNames []string
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Name))
		present[ext] = true
		if ext == ".shp" {
			shpNames = append(shpNames, f.Name)
		}
	}

	var missing []string
	for _, ext := range requiredShapefileExts {
		if !present[ext] {
			missing = append(missing, ext)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required files: %s", strings.Join(missing, ", "))
	}
	if len(shpNames) > 1 {
		return "", errors.New("multiple .shp files found, upload a ZIP with only one shapefile")
	}

	for _, f := range files {
		if err := extractFile(f, destDir); err != nil {
			return "", err
		}
	}
	return filepath.Join(destDir, filepath.FromSlash(shpNames[0])), nil
}

func extractFile(f *zip.File, destDir string) error {
	dest := filepath.Join(destDir, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(dest, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("unsafe path in archive: %s", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}
	defer rc.Close()
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return nil
}

// PackageShapefile writes a ZIP archive containing the shapefile at
// shpPath and whichever of its sidecar files exist. Entry names are
// flattened to the shapefile's base name.
func PackageShapefile(shpPath string, w io.Writer) error {
	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	name := filepath.Base(base)

	zw := zip.NewWriter(w)
	found := false
	for _, ext := range packagedShapefileExts {
		data, err := os.ReadFile(base + ext)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read %s: %w", base+ext, err)
		}
		entry, err := zw.Create(name + ext)
		if err != nil {
			return fmt.Errorf("create archive entry: %w", err)
		}
		if _, err := entry.Write(data); err != nil {
			return fmt.Errorf("write archive entry: %w", err)
		}
		found = true
	}
	if !found {
		return fmt.Errorf("no shapefile components at %s", base)
	}
	return zw.Close()
}
