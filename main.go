package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries the parsed command line.
type AppOptions struct {
	ConfigFile string
	Input      string
	Output     string

	InfoOnly      bool
	DedupeOnly    bool
	MergeOnly     bool
	ReprojectOnly bool
	CSVOnly       bool
	ExcelOnly     bool
	ServeMode     bool

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

// appRunner is the surface main drives; App implements it, tests mock it.
type appRunner interface {
	ApplyOptions(opts AppOptions)
	RunInfo()
	RunDedupe()
	RunMerge()
	RunReproject()
	RunExportCSV()
	RunExcelCSV()
	RunService()
}

func run(args []string, out io.Writer, app appRunner) error {
	fs := flag.NewFlagSet("shapekit", flag.ContinueOnError)
	fs.SetOutput(out)

	configFile := fs.String("config", "config.yaml", "Path to configuration file")
	input := fs.String("input", "", "Input shapefile ZIP or .shp (comma-separated for -merge)")
	output := fs.String("output", "", "Output file path (default derived from the input name)")
	infoOnly := fs.Bool("info", false, "Print dataset info and exit")
	dedupeOnly := fs.Bool("dedupe", false, "Remove duplicate polygons and exit")
	mergeOnly := fs.Bool("merge", false, "Merge the input shapefiles and exit")
	reprojectOnly := fs.Bool("reproject", false, "Reproject the input to -epsg and exit")
	csvOnly := fs.Bool("export-csv", false, "Export the attribute table as CSV and exit")
	excelOnly := fs.Bool("excel-csv", false, "Convert a spreadsheet sheet to CSV and exit")
	serveMode := fs.Bool("serve", false, "Run the HTTP service")
	areaTolerance := fs.Float64("area-tolerance", 0, "Allowed area difference percent for -dedupe (0 = exact)")
	overlapThreshold := fs.Float64("overlap-threshold", 100, "Required overlap percent for -dedupe")
	keepLast := fs.Bool("keep-last", false, "Keep the last duplicate of a group instead of the first")
	targetEPSG := fs.Int("epsg", 0, "Target EPSG code for -reproject and -merge")
	separator := fs.String("separator", ",", "Field separator for CSV output")
	columns := fs.String("columns", "", "Comma-separated column subset for -export-csv")
	includeGeometry := fs.Bool("geometry", false, "Include a WKT geometry column in CSV output")
	sheet := fs.String("sheet", "", "Sheet name for -excel-csv (default: first sheet)")
	format := fs.String("format", "zip", "Reprojection output format: zip or geojson")
	httpPort := fs.Int("http-port", 0, "HTTP port override (default from config)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "shapekit version: %s\n", Version)

	opts := AppOptions{
		ConfigFile:          *configFile,
		Input:               *input,
		Output:              *output,
		InfoOnly:            *infoOnly,
		DedupeOnly:          *dedupeOnly,
		MergeOnly:           *mergeOnly,
		ReprojectOnly:       *reprojectOnly,
		CSVOnly:             *csvOnly,
		ExcelOnly:           *excelOnly,
		ServeMode:           *serveMode,
		AreaTolerancePct:    *areaTolerance,
		OverlapThresholdPct: *overlapThreshold,
		KeepLast:            *keepLast,
		TargetEPSG:          *targetEPSG,
		Separator:           *separator,
		Columns:             *columns,
		IncludeGeometry:     *includeGeometry,
		Sheet:               *sheet,
		Format:              *format,
		HttpPort:            *httpPort,
	}
	app.ApplyOptions(opts)

	switch {
	case *infoOnly:
		app.RunInfo()
	case *dedupeOnly:
		app.RunDedupe()
	case *mergeOnly:
		app.RunMerge()
	case *reprojectOnly:
		app.RunReproject()
	case *csvOnly:
		app.RunExportCSV()
	case *excelOnly:
		app.RunExcelCSV()
	case *serveMode:
		app.RunService()
	default:
		fmt.Fprintln(out, "shapekit shapefile toolkit")
		fmt.Fprintln(out, "Use -serve to run the HTTP service")
		fmt.Fprintln(out, "Use -info -input data.zip to inspect a shapefile")
		fmt.Fprintln(out, "Use -dedupe -input data.zip to remove duplicate polygons")
		fmt.Fprintln(out, "Use -merge -input a.zip,b.zip to merge shapefiles")
		fmt.Fprintln(out, "Use -reproject -input data.zip -epsg 3857 to reproject")
		fmt.Fprintln(out, "Use -export-csv -input data.zip to export the attribute table")
		fmt.Fprintln(out, "Use -excel-csv -input book.xlsx to convert a spreadsheet sheet")
		fmt.Fprintln(out, "\nConfiguration:")
		fmt.Fprintln(out, "  config.yaml - HTTP port, data directory, thresholds, MQTT settings")
	}
	return nil
}

func main() {
	app := NewApp()
	if err := run(os.Args[1:], os.Stdout, app); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
}
