package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/shapekit/shapekit/shape"
)

// App encapsulates the application state and dependencies
type App struct {
	Config   *shape.Config
	Store    *shape.DatasetStore
	History  *shape.JobHistory
	Notifier *shape.Notifier

	// CLI Flags (effectively dependencies)
	ConfigFile          string
	Input               string
	Output              string
	AreaTolerancePct    float64
	OverlapThresholdPct float64
	KeepLast            bool
	TargetEPSG          int
	Separator           string
	Columns             string
	IncludeGeometry     bool
	Sheet               string
	Format              string
	HttpPort            int
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.Input = opts.Input
	a.Output = opts.Output
	a.AreaTolerancePct = opts.AreaTolerancePct
	a.OverlapThresholdPct = opts.OverlapThresholdPct
	a.KeepLast = opts.KeepLast
	a.TargetEPSG = opts.TargetEPSG
	a.Separator = opts.Separator
	a.Columns = opts.Columns
	a.IncludeGeometry = opts.IncludeGeometry
	a.Sheet = opts.Sheet
	a.Format = opts.Format
	a.HttpPort = opts.HttpPort
}

// loadInput reads a shapefile from a .zip archive or a bare .shp path and
// returns the collection together with the input's base name.
func (a *App) loadInput(path string) (*shape.Collection, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("no input file given, use -input")
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if strings.EqualFold(filepath.Ext(path), ".zip") {
		f, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return nil, "", fmt.Errorf("stat %s: %w", path, err)
		}
		tmp, err := os.MkdirTemp("", "shapekit-")
		if err != nil {
			return nil, "", fmt.Errorf("create temp directory: %w", err)
		}
		defer os.RemoveAll(tmp)

		shpPath, err := shape.ExtractArchive(f, st.Size(), tmp)
		if err != nil {
			return nil, "", fmt.Errorf("extract %s: %w", path, err)
		}
		c, err := shape.ReadShapefile(shpPath)
		if err != nil {
			return nil, "", err
		}
		return c, base, nil
	}

	c, err := shape.ReadShapefile(path)
	if err != nil {
		return nil, "", err
	}
	return c, base, nil
}

// writeCollection writes the collection to path; the extension picks the
// format (.zip, .shp, .geojson or .csv).
func (a *App) writeCollection(c *shape.Collection, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		tmp, err := os.MkdirTemp("", "shapekit-")
		if err != nil {
			return fmt.Errorf("create temp directory: %w", err)
		}
		defer os.RemoveAll(tmp)
		base := strings.TrimSuffix(filepath.Base(path), ".zip")
		shpPath := filepath.Join(tmp, base+".shp")
		if err := shape.WriteShapefile(c, shpPath); err != nil {
			return err
		}
		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer out.Close()
		return shape.PackageShapefile(shpPath, out)
	case ".shp":
		return shape.WriteShapefile(c, path)
	case ".geojson", ".json":
		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer out.Close()
		return shape.WriteGeoJSON(c, out)
	case ".csv":
		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer out.Close()
		return shape.WriteCSV(c, out, a.csvOptions())
	default:
		return fmt.Errorf("unsupported output format %q (use .zip, .shp, .geojson or .csv)", filepath.Ext(path))
	}
}

func (a *App) csvOptions() shape.CSVOptions {
	opts := shape.CSVOptions{IncludeGeometry: a.IncludeGeometry}
	if a.Separator != "" {
		opts.Separator = []rune(a.Separator)[0]
	}
	if a.Columns != "" {
		for _, col := range strings.Split(a.Columns, ",") {
			opts.Columns = append(opts.Columns, strings.TrimSpace(col))
		}
	}
	return opts
}

func (a *App) dedupeOptions() shape.DedupeOptions {
	return shape.DedupeOptions{
		AreaTolerancePct:    a.AreaTolerancePct,
		OverlapThresholdPct: a.OverlapThresholdPct,
		KeepFirst:           !a.KeepLast,
	}
}

// RunInfo prints a summary of the input shapefile
func (a *App) RunInfo() {
	c, base, err := a.loadInput(a.Input)
	if err != nil {
		log.Fatalf("Error loading input: %v", err)
	}

	fmt.Printf("=== %s ===\n", base)
	fmt.Printf("Features: %d\n", c.Len())

	types := c.GeometryTypes()
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s (%d)", name, types[name]))
	}
	fmt.Printf("Geometry: %s\n", strings.Join(parts, ", "))

	if c.CRS != nil {
		fmt.Printf("CRS: %s\n", c.CRS.Label())
	} else {
		fmt.Println("CRS: unknown (no .prj file)")
	}

	b := c.Bound()
	fmt.Printf("Bounds: (%.4f, %.4f) to (%.4f, %.4f)\n", b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	fmt.Printf("Total Area: %.4f\n", c.TotalArea())
	fmt.Printf("Columns: [%s]\n", strings.Join(c.Columns, ", "))
	if c.Encoding != "" {
		fmt.Printf("Encoding: %s\n", c.Encoding)
	}
}

// RunDedupe removes duplicate polygons from the input and writes the result
func (a *App) RunDedupe() {
	c, base, err := a.loadInput(a.Input)
	if err != nil {
		log.Fatalf("Error loading input: %v", err)
	}
	fmt.Printf("Loaded %s: %d feature(s)\n", a.Input, c.Len())

	result, err := shape.Dedupe(c, a.dedupeOptions())
	if err != nil {
		log.Fatalf("Error removing duplicates: %v", err)
	}

	rep := result.Report
	fmt.Printf("%s\n", rep.Details)
	fmt.Printf("Total: %d, Removed: %d, Remaining: %d\n", rep.Total, rep.Removed, rep.Remaining)

	output := a.Output
	if output == "" {
		output = "dedup_" + base + ".zip"
	}
	if err := a.writeCollection(result.Collection, output); err != nil {
		log.Fatalf("Error writing output: %v", err)
	}
	fmt.Printf("Created: %s\n", output)
}

// RunMerge merges the comma-separated input shapefiles into one
func (a *App) RunMerge() {
	paths := strings.Split(a.Input, ",")
	if len(paths) < 2 {
		log.Fatal("Need at least 2 inputs for merge, use -input a.zip,b.zip")
	}

	inputs := make([]*shape.Collection, 0, len(paths))
	firstBase := ""
	for _, p := range paths {
		c, base, err := a.loadInput(strings.TrimSpace(p))
		if err != nil {
			log.Fatalf("Error loading %s: %v", p, err)
		}
		if firstBase == "" {
			firstBase = base
		}
		inputs = append(inputs, c)
		fmt.Printf("Loaded: %s (%d feature(s))\n", strings.TrimSpace(p), c.Len())
	}

	merged, rep, err := shape.Merge(inputs, shape.MergeOptions{TargetEPSG: a.TargetEPSG, Align: true})
	if err != nil {
		log.Fatalf("Error merging: %v", err)
	}
	fmt.Printf("Merged %d input(s) into %d feature(s), CRS %s\n", rep.Inputs, rep.OutputFeatures, rep.CRS)
	if rep.Reprojected {
		fmt.Println("Inputs were reprojected to a common CRS")
	}

	output := a.Output
	if output == "" {
		output = "merged_" + firstBase + ".zip"
	}
	if err := a.writeCollection(merged, output); err != nil {
		log.Fatalf("Error writing output: %v", err)
	}
	fmt.Printf("Created: %s\n", output)
}

// RunReproject transforms the input to the target EPSG code
func (a *App) RunReproject() {
	if a.TargetEPSG <= 0 {
		log.Fatal("No target EPSG code given, use -epsg")
	}
	c, base, err := a.loadInput(a.Input)
	if err != nil {
		log.Fatalf("Error loading input: %v", err)
	}

	out, err := shape.Reproject(c, a.TargetEPSG)
	if err != nil {
		log.Fatalf("Error reprojecting: %v", err)
	}
	fmt.Printf("Reprojected %d feature(s) to EPSG:%d\n", out.Len(), a.TargetEPSG)

	output := a.Output
	if output == "" {
		ext := ".zip"
		if a.Format == "geojson" {
			ext = ".geojson"
		}
		output = fmt.Sprintf("reprojected_%s_%d%s", base, a.TargetEPSG, ext)
	}
	if err := a.writeCollection(out, output); err != nil {
		log.Fatalf("Error writing output: %v", err)
	}
	fmt.Printf("Created: %s\n", output)
}

// RunExportCSV writes the input's attribute table as CSV
func (a *App) RunExportCSV() {
	c, base, err := a.loadInput(a.Input)
	if err != nil {
		log.Fatalf("Error loading input: %v", err)
	}

	output := a.Output
	if output == "" {
		output = base + ".csv"
	}
	out, err := os.Create(output)
	if err != nil {
		log.Fatalf("Error creating output file %s: %v", output, err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Printf("Warning: error closing output file %s: %v", output, err)
		}
	}()

	if err := shape.WriteCSV(c, out, a.csvOptions()); err != nil {
		log.Fatalf("Error writing CSV: %v", err)
	}
	fmt.Printf("Exported %d row(s) to %s\n", c.Len(), output)
}

// RunExcelCSV converts one sheet of a spreadsheet to CSV
func (a *App) RunExcelCSV() {
	if a.Input == "" {
		log.Fatal("No input file given, use -input")
	}
	f, err := os.Open(a.Input)
	if err != nil {
		log.Fatalf("Error opening %s: %v", a.Input, err)
	}
	defer f.Close()

	sheet := a.Sheet
	if sheet == "" {
		sheets, err := shape.SpreadsheetSheets(f)
		if err != nil {
			log.Fatalf("Error reading workbook: %v", err)
		}
		if len(sheets) == 0 {
			log.Fatal("Workbook has no sheets")
		}
		sheet = sheets[0]
		if _, err := f.Seek(0, 0); err != nil {
			log.Fatalf("Error rewinding %s: %v", a.Input, err)
		}
	}

	output := a.Output
	if output == "" {
		base := strings.TrimSuffix(filepath.Base(a.Input), filepath.Ext(a.Input))
		output = base + ".csv"
	}
	out, err := os.Create(output)
	if err != nil {
		log.Fatalf("Error creating output file %s: %v", output, err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Printf("Warning: error closing output file %s: %v", output, err)
		}
	}()

	var sep rune
	if a.Separator != "" {
		sep = []rune(a.Separator)[0]
	}
	if err := shape.SheetToCSV(f, sheet, out, sep); err != nil {
		log.Fatalf("Error converting sheet: %v", err)
	}
	fmt.Printf("Converted sheet %q to %s\n", sheet, output)
}

// RunService starts the HTTP service
func (a *App) RunService() {
	fmt.Println("Starting shapekit service...")

	// 1. Load config.yaml (optional, defaults apply when absent)
	cfg := shape.DefaultConfig()
	if _, err := os.Stat(a.ConfigFile); err == nil {
		cfg, err = shape.LoadConfig(a.ConfigFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("Loaded config from %s", a.ConfigFile)
	} else {
		log.Printf("Warning: no config file at %s, using defaults", a.ConfigFile)
	}
	if a.HttpPort > 0 {
		cfg.HTTP.Port = a.HttpPort
	}
	a.Config = cfg

	// 2. Create the data directory and the dataset store
	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		log.Fatalf("Failed to create data directory %s: %v", cfg.Data.Dir, err)
	}
	a.Store = shape.NewDatasetStore(cfg.Data.Dir, cfg.TTL())

	// 3. Open the job history database
	history, err := shape.OpenJobHistory(context.Background(), cfg.Data.HistoryDB)
	if err != nil {
		log.Printf("Warning: job history disabled: %v", err)
	} else {
		a.History = history
	}

	// 4. Start the MQTT notifier when a broker is configured
	a.Notifier = shape.NewNotifier(cfg)

	// 5. Expire stale datasets in the background
	stop := make(chan struct{})
	if cfg.TTL() > 0 {
		ticker := time.NewTicker(time.Minute)
		go func() {
			for {
				select {
				case <-ticker.C:
					if n := a.Store.Sweep(time.Now()); n > 0 {
						log.Printf("Expired %d dataset(s)", n)
					}
				case <-stop:
					ticker.Stop()
					return
				}
			}
		}()
	}

	// 6. Start the HTTP server
	httpServer := newHTTPServer(a.Store, a.History, a.Notifier, cfg)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		log.Printf("[HTTP] Starting server on %s", addr)
		if err := http.ListenAndServe(addr, httpServer); err != nil {
			log.Fatalf("[HTTP] Server error: %v", err)
		}
	}()

	// 7. Print service info
	fmt.Println("\nService Running")
	fmt.Println("===============")
	fmt.Printf("\nHTTP endpoints (port %d):\n", cfg.HTTP.Port)
	fmt.Println("  GET  /                - Upload and tool forms")
	fmt.Println("  POST /api/upload      - Upload a zipped shapefile")
	fmt.Println("  GET  /api/info        - Dataset summary")
	fmt.Println("  POST /api/dedupe      - Remove duplicate polygons")
	fmt.Println("  POST /api/merge       - Merge datasets")
	fmt.Println("  POST /api/append      - Append one dataset to another")
	fmt.Println("  POST /api/reproject   - Reproject a dataset")
	fmt.Println("  POST /api/export-csv  - Export the attribute table")
	fmt.Println("  POST /api/excel-csv   - Convert a spreadsheet sheet to CSV")
	fmt.Println("  GET  /preview.svg     - Vector preview")
	fmt.Println("  GET  /preview.png     - Raster preview with legend")
	fmt.Println("  GET  /download/{token} - Download a result file")
	fmt.Println("  GET  /api/jobs        - Recent job history")
	fmt.Println("  GET  /health          - Health check")
	fmt.Println("  GET  /metrics         - Prometheus metrics")
	if cfg.MQTT.Broker != "" || os.Getenv("MQTT_BROKER") != "" {
		prefix := cfg.MQTT.Prefix
		if prefix == "" {
			prefix = "shapekit"
		}
		fmt.Println("\nMQTT:")
		fmt.Printf("  Publishing job events to %s/jobs and %s/jobs/{tool}\n", prefix, prefix)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// 8. Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")
	close(stop)
	a.Notifier.Disconnect()
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			log.Printf("Warning: error closing job history: %v", err)
		}
	}
	fmt.Println("Service stopped")
}
