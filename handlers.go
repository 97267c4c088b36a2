package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shapekit/shapekit/shape"
)

// datasetInfo is the JSON summary returned by the upload and info endpoints.
type datasetInfo struct {
	Token       string         `json:"token"`
	Name        string         `json:"name"`
	Features    int            `json:"features"`
	Geometry    string         `json:"geometry"`
	CRS         string         `json:"crs"`
	Bounds      [4]float64     `json:"bounds"`
	TotalArea   float64        `json:"totalArea"`
	Columns     []string       `json:"columns"`
	Encoding    string         `json:"encoding,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	Suggestions map[int]string `json:"epsgSuggestions"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(store *shape.DatasetStore, history *shape.JobHistory, notifier *shape.Notifier, cfg *shape.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Datasets  int       `json:"datasets"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Datasets:  len(store.Datasets()),
		}
		writeJSON(w, status)
	})

	// Prometheus metrics endpoint
	mux.Handle("/metrics", shape.MetricsHandler())

	// Upload endpoint: multipart ZIP -> token + dataset summary
	mux.HandleFunc("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		maxBytes := int64(cfg.HTTP.MaxUploadMB) << 20
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			http.Error(w, fmt.Sprintf("upload too large or malformed: %v", err), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file field", http.StatusBadRequest)
			return
		}
		defer file.Close()
		shape.UploadBytes.Observe(float64(header.Size))

		token, dir, err := store.NewWorkDir()
		if err != nil {
			serverError(w, err)
			return
		}
		shpPath, err := shape.ExtractArchive(file, header.Size, dir)
		if err != nil {
			os.RemoveAll(dir)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c, err := shape.ReadShapefile(shpPath)
		if err != nil {
			os.RemoveAll(dir)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ds := &shape.Dataset{
			Token:     token,
			Name:      header.Filename,
			Features:  c.Len(),
			Geometry:  geometrySummary(c),
			CRS:       crsLabel(c),
			Columns:   c.Columns,
			CreatedAt: time.Now(),
			Dir:       dir,
			ShpPath:   shpPath,
		}
		store.PutDataset(ds)
		log.Printf("Uploaded %s: %d feature(s), token %s", header.Filename, c.Len(), token)

		writeJSON(w, struct {
			Token string      `json:"token"`
			Info  datasetInfo `json:"info"`
		}{token, buildInfo(ds, c)})
	})

	// Dataset summary endpoint
	mux.HandleFunc("/api/info", func(w http.ResponseWriter, r *http.Request) {
		ds, c, ok := datasetFromRequest(w, r, store, "token")
		if !ok {
			return
		}
		writeJSON(w, buildInfo(ds, c))
	})

	// Uploaded dataset listing, newest first
	mux.HandleFunc("/api/datasets", func(w http.ResponseWriter, r *http.Request) {
		datasets := store.Datasets()
		if datasets == nil {
			datasets = []*shape.Dataset{}
		}
		writeJSON(w, datasets)
	})

	// Duplicate removal endpoint
	mux.HandleFunc("/api/dedupe", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ds, c, ok := datasetFromRequest(w, r, store, "token")
		if !ok {
			return
		}
		opts, ok := dedupeOptionsFromRequest(w, r, cfg)
		if !ok {
			return
		}

		result, err := shape.Dedupe(c, opts)
		if err != nil {
			failJob(w, "dedupe", err)
			return
		}
		shape.DedupeRemovedTotal.Add(float64(result.Report.Removed))

		res, err := packageResult(store, result.Collection, "dedup_"+baseName(ds.Name))
		if err != nil {
			serverError(w, err)
			return
		}
		finishJob(history, notifier, &shape.JobRecord{
			Tool:     "dedupe",
			Dataset:  ds.Name,
			Features: result.Report.Remaining,
			Removed:  result.Report.Removed,
			Detail:   result.Report.Details,
		}, start)

		writeJSON(w, struct {
			Report         shape.DedupeReport `json:"report"`
			Groups         [][]int            `json:"groups"`
			RemovedIndices []int              `json:"removedIndices"`
			ResultToken    string             `json:"resultToken"`
			Download       string             `json:"download"`
		}{result.Report, result.Groups, result.RemovedIndices, res.Token, "/download/" + res.Token + ".zip"})
	})

	// Merge endpoint: two or more datasets into one
	mux.HandleFunc("/api/merge", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tokens := splitList(r.FormValue("tokens"))
		if len(tokens) < 2 {
			http.Error(w, "at least two dataset tokens are required", http.StatusBadRequest)
			return
		}
		targetEPSG, err := formInt(r, "target_epsg", 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		inputs := make([]*shape.Collection, 0, len(tokens))
		names := make([]string, 0, len(tokens))
		for _, token := range tokens {
			ds, ok := store.Dataset(token)
			if !ok {
				http.Error(w, fmt.Sprintf("unknown dataset token %q", token), http.StatusNotFound)
				return
			}
			c, err := shape.ReadShapefile(ds.ShpPath)
			if err != nil {
				serverError(w, err)
				return
			}
			inputs = append(inputs, c)
			names = append(names, ds.Name)
		}

		merged, rep, err := shape.Merge(inputs, shape.MergeOptions{TargetEPSG: targetEPSG, Align: true})
		if err != nil {
			failJob(w, "merge", err)
			return
		}
		res, err := packageResult(store, merged, "merged_"+baseName(names[0]))
		if err != nil {
			serverError(w, err)
			return
		}
		finishJob(history, notifier, &shape.JobRecord{
			Tool:     "merge",
			Dataset:  strings.Join(names, "+"),
			Features: rep.OutputFeatures,
			Detail:   fmt.Sprintf("Merged %d input(s) into %d feature(s).", rep.Inputs, rep.OutputFeatures),
		}, start)

		writeJSON(w, struct {
			Report      *shape.MergeReport `json:"report"`
			ResultToken string             `json:"resultToken"`
			Download    string             `json:"download"`
		}{rep, res.Token, "/download/" + res.Token + ".zip"})
	})

	// Append endpoint: exactly two datasets, schemas aligned
	mux.HandleFunc("/api/append", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		dsA, first, ok := datasetFromRequest(w, r, store, "token_a")
		if !ok {
			return
		}
		dsB, second, ok := datasetFromRequest(w, r, store, "token_b")
		if !ok {
			return
		}
		targetEPSG, err := formInt(r, "target_epsg", 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		combined, rep, err := shape.Append(first, second, targetEPSG)
		if err != nil {
			failJob(w, "append", err)
			return
		}
		res, err := packageResult(store, combined, "appended_"+baseName(dsA.Name))
		if err != nil {
			serverError(w, err)
			return
		}
		finishJob(history, notifier, &shape.JobRecord{
			Tool:     "append",
			Dataset:  dsA.Name + "+" + dsB.Name,
			Features: rep.OutputFeatures,
			Detail:   fmt.Sprintf("Appended %d feature(s) to %d.", second.Len(), first.Len()),
		}, start)

		writeJSON(w, struct {
			Report      *shape.MergeReport `json:"report"`
			ResultToken string             `json:"resultToken"`
			Download    string             `json:"download"`
		}{rep, res.Token, "/download/" + res.Token + ".zip"})
	})

	// Reprojection endpoint
	mux.HandleFunc("/api/reproject", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ds, c, ok := datasetFromRequest(w, r, store, "token")
		if !ok {
			return
		}
		targetEPSG, err := formInt(r, "target_epsg", 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if targetEPSG <= 0 {
			http.Error(w, "target_epsg is required", http.StatusBadRequest)
			return
		}
		format := r.FormValue("format")
		if format == "" {
			format = "zip"
		}
		if format != "zip" && format != "geojson" {
			http.Error(w, fmt.Sprintf("unknown format %q (use zip or geojson)", format), http.StatusBadRequest)
			return
		}

		out, err := shape.Reproject(c, targetEPSG)
		if err != nil {
			failJob(w, "reproject", err)
			return
		}

		base := fmt.Sprintf("reprojected_%s_%d", baseName(ds.Name), targetEPSG)
		ext := ".zip"
		var res *shape.ResultFile
		if format == "geojson" {
			ext = ".geojson"
			res, err = geojsonResult(store, out, base)
		} else {
			res, err = packageResult(store, out, base)
		}
		if err != nil {
			serverError(w, err)
			return
		}
		finishJob(history, notifier, &shape.JobRecord{
			Tool:     "reproject",
			Dataset:  ds.Name,
			Features: out.Len(),
			Detail:   fmt.Sprintf("Reprojected to EPSG:%d.", targetEPSG),
		}, start)

		writeJSON(w, struct {
			CRS         string `json:"crs"`
			Features    int    `json:"features"`
			ResultToken string `json:"resultToken"`
			Download    string `json:"download"`
		}{crsLabel(out), out.Len(), res.Token, "/download/" + res.Token + ext})
	})

	// Attribute table export, streamed back as CSV
	mux.HandleFunc("/api/export-csv", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ds, c, ok := datasetFromRequest(w, r, store, "token")
		if !ok {
			return
		}
		opts := shape.CSVOptions{Columns: splitList(r.FormValue("columns"))}
		if sep := r.FormValue("separator"); sep != "" {
			opts.Separator = []rune(sep)[0]
		}
		includeGeometry, err := formBool(r, "include_geometry", false)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.IncludeGeometry = includeGeometry

		// Buffered so column errors can still produce a clean 400.
		var buf bytes.Buffer
		if err := shape.WriteCSV(c, &buf, opts); err != nil {
			failJob(w, "export-csv", err)
			return
		}
		finishJob(history, notifier, &shape.JobRecord{
			Tool:     "export-csv",
			Dataset:  ds.Name,
			Features: c.Len(),
			Detail:   fmt.Sprintf("Exported %d row(s).", c.Len()),
		}, start)

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", baseName(ds.Name)+".csv"))
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Printf("Error writing CSV response: %v", err)
		}
	})

	// Spreadsheet sheet to CSV, streamed back
	mux.HandleFunc("/api/excel-csv", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		maxBytes := int64(cfg.HTTP.MaxUploadMB) << 20
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			http.Error(w, fmt.Sprintf("upload too large or malformed: %v", err), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file field", http.StatusBadRequest)
			return
		}
		defer file.Close()
		shape.UploadBytes.Observe(float64(header.Size))

		sheet := r.FormValue("sheet")
		if sheet == "" {
			sheets, err := shape.SpreadsheetSheets(file)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if len(sheets) == 0 {
				http.Error(w, "workbook has no sheets", http.StatusBadRequest)
				return
			}
			sheet = sheets[0]
			if _, err := file.Seek(0, 0); err != nil {
				serverError(w, err)
				return
			}
		}
		var sep rune
		if s := r.FormValue("separator"); s != "" {
			sep = []rune(s)[0]
		}

		var buf bytes.Buffer
		if err := shape.SheetToCSV(file, sheet, &buf, sep); err != nil {
			failJob(w, "excel-csv", err)
			return
		}
		rows := bytes.Count(buf.Bytes(), []byte("\n"))
		if rows > 0 {
			rows-- // header row
		}
		finishJob(history, notifier, &shape.JobRecord{
			Tool:     "excel-csv",
			Dataset:  header.Filename,
			Features: rows,
			Detail:   fmt.Sprintf("Converted sheet %q to CSV.", sheet),
		}, start)

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", baseName(header.Filename)+".csv"))
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Printf("Error writing CSV response: %v", err)
		}
	})

	// Vector preview endpoint
	mux.HandleFunc("/preview.svg", func(w http.ResponseWriter, r *http.Request) {
		servePreview(w, r, store, cfg, false)
	})

	// Raster preview endpoint with legend
	mux.HandleFunc("/preview.png", func(w http.ResponseWriter, r *http.Request) {
		servePreview(w, r, store, cfg, true)
	})

	// Result file download; the token may carry the file extension
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.URL.Path, "/download/")
		token = strings.TrimSuffix(token, filepath.Ext(token))
		res, ok := store.Result(token)
		if !ok {
			http.Error(w, "unknown result token", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", res.MediaType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Name))
		http.ServeFile(w, r, res.Path)
	})

	// Job history endpoint
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			writeJSON(w, []*shape.JobRecord{})
			return
		}
		limit, err := formInt(r, "limit", 50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		records, err := history.Recent(r.Context(), limit)
		if err != nil {
			serverError(w, err)
			return
		}
		if records == nil {
			records = []*shape.JobRecord{}
		}
		writeJSON(w, records)
	})

	// Default route serves the tool forms
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>shapekit</title>
<style>
body{font-family:sans-serif;max-width:720px;margin:2em auto;padding:0 1em;color:#222}
fieldset{margin-bottom:1.5em;border:1px solid #ccc}
label{display:inline-block;min-width:11em}
code{background:#f2f2f2;padding:0 .3em}
</style>
</head>
<body>
<h1>shapekit</h1>
<p>Shapefile toolkit: duplicate polygon removal, merge, reprojection, CSV and GeoJSON exports.</p>
<fieldset>
<legend>Upload shapefile ZIP</legend>
<form action="/api/upload" method="post" enctype="multipart/form-data">
<input type="file" name="file" accept=".zip" required>
<button type="submit">Upload</button>
</form>
</fieldset>
<fieldset>
<legend>Remove duplicate polygons</legend>
<form action="/api/dedupe" method="post">
<label>Dataset token</label><input name="token" size="34" required><br>
<label>Area tolerance %</label><input name="area_tolerance_pct" value="0"><br>
<label>Overlap threshold %</label><input name="overlap_threshold_pct" value="100"><br>
<label>Keep</label><select name="keep_first"><option value="true">first duplicate</option><option value="false">last duplicate</option></select><br>
<button type="submit">Run</button>
</form>
</fieldset>
<fieldset>
<legend>Spreadsheet to CSV</legend>
<form action="/api/excel-csv" method="post" enctype="multipart/form-data">
<input type="file" name="file" accept=".xlsx,.xlsm,.xltx,.xltm" required>
<label>Sheet</label><input name="sheet" placeholder="first sheet"><br>
<button type="submit">Convert</button>
</form>
</fieldset>
<p>Previews: <code>/preview.svg?token=...</code> and <code>/preview.png?token=...</code>,
with <code>&amp;highlight=dupes</code> to tint duplicate groups and removals.</p>
<p>Other tools take form fields: <code>POST /api/merge</code> (tokens, target_epsg),
<code>POST /api/append</code> (token_a, token_b), <code>POST /api/reproject</code>
(token, target_epsg, format), <code>POST /api/export-csv</code> (token, separator,
columns, include_geometry). Job history at <code>/api/jobs</code>, uploads at
<code>/api/datasets</code>.</p>
</body>
</html>`)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		shape.RequestsTotal.WithLabelValues(metricPath(r.URL.Path)).Inc()
		mux.ServeHTTP(w, r)
	})
}

// servePreview renders a dataset preview. With highlight=dupes the dedupe
// engine runs first so duplicate groups and removals can be tinted.
func servePreview(w http.ResponseWriter, r *http.Request, store *shape.DatasetStore, cfg *shape.Config, asPNG bool) {
	_, c, ok := datasetFromRequest(w, r, store, "token")
	if !ok {
		return
	}

	p := shape.NewPreviewRenderer(c)
	if r.FormValue("highlight") == "dupes" {
		opts, ok := dedupeOptionsFromRequest(w, r, cfg)
		if !ok {
			return
		}
		result, err := shape.Dedupe(c, opts)
		if err != nil {
			toolError(w, err)
			return
		}
		p.Groups = result.Groups
		p.Removed = result.RemovedIndices
	}

	w.Header().Set("Cache-Control", "no-cache")
	if asPNG {
		w.Header().Set("Content-Type", "image/png")
		if err := p.RenderPNG(w); err != nil {
			log.Printf("Error encoding preview PNG: %v", err)
		}
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	if err := p.RenderSVG(w); err != nil {
		log.Printf("Error encoding preview SVG: %v", err)
	}
}

// datasetFromRequest resolves a token form field to a stored dataset and
// loads its collection, writing the error response itself on failure.
func datasetFromRequest(w http.ResponseWriter, r *http.Request, store *shape.DatasetStore, field string) (*shape.Dataset, *shape.Collection, bool) {
	token := r.FormValue(field)
	if token == "" {
		http.Error(w, fmt.Sprintf("missing %s parameter", field), http.StatusBadRequest)
		return nil, nil, false
	}
	ds, ok := store.Dataset(token)
	if !ok {
		http.Error(w, "unknown dataset token", http.StatusNotFound)
		return nil, nil, false
	}
	c, err := shape.ReadShapefile(ds.ShpPath)
	if err != nil {
		serverError(w, err)
		return nil, nil, false
	}
	return ds, c, true
}

// dedupeOptionsFromRequest layers request parameters over the configured
// defaults, writing a 400 itself when a value does not parse.
func dedupeOptionsFromRequest(w http.ResponseWriter, r *http.Request, cfg *shape.Config) (shape.DedupeOptions, bool) {
	opts := cfg.DedupeOptions()
	var err error
	if opts.AreaTolerancePct, err = formFloat(r, "area_tolerance_pct", opts.AreaTolerancePct); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return opts, false
	}
	if opts.OverlapThresholdPct, err = formFloat(r, "overlap_threshold_pct", opts.OverlapThresholdPct); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return opts, false
	}
	if opts.KeepFirst, err = formBool(r, "keep_first", opts.KeepFirst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return opts, false
	}
	return opts, true
}

// packageResult writes the collection as a zipped shapefile in a fresh work
// directory and registers it for download.
func packageResult(store *shape.DatasetStore, c *shape.Collection, base string) (*shape.ResultFile, error) {
	token, dir, err := store.NewWorkDir()
	if err != nil {
		return nil, err
	}
	shpPath := filepath.Join(dir, base+".shp")
	if err := shape.WriteShapefile(c, shpPath); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	zipPath := filepath.Join(dir, base+".zip")
	zf, err := os.Create(zipPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("create %s: %w", zipPath, err)
	}
	defer zf.Close()
	if err := shape.PackageShapefile(shpPath, zf); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	res := &shape.ResultFile{
		Token:     token,
		Name:      base + ".zip",
		MediaType: "application/zip",
		CreatedAt: time.Now(),
		Dir:       dir,
		Path:      zipPath,
	}
	store.PutResult(res)
	return res, nil
}

// geojsonResult writes the collection as GeoJSON in a fresh work directory
// and registers it for download.
func geojsonResult(store *shape.DatasetStore, c *shape.Collection, base string) (*shape.ResultFile, error) {
	token, dir, err := store.NewWorkDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, base+".geojson")
	f, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := shape.WriteGeoJSON(c, f); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	res := &shape.ResultFile{
		Token:     token,
		Name:      base + ".geojson",
		MediaType: "application/geo+json",
		CreatedAt: time.Now(),
		Dir:       dir,
		Path:      path,
	}
	store.PutResult(res)
	return res, nil
}

// finishJob records metrics, history and the MQTT event for a completed run.
func finishJob(history *shape.JobHistory, notifier *shape.Notifier, rec *shape.JobRecord, start time.Time) {
	rec.DurationMS = time.Since(start).Milliseconds()
	rec.CreatedAt = time.Now()
	shape.JobsTotal.WithLabelValues(rec.Tool, "ok").Inc()
	shape.JobDurationMs.WithLabelValues(rec.Tool).Observe(float64(rec.DurationMS))

	if history != nil {
		if err := history.Record(context.Background(), rec); err != nil {
			log.Printf("Warning: failed to record job: %v", err)
		}
	}
	err := notifier.PublishJob(&shape.JobEvent{
		Tool:     rec.Tool,
		Dataset:  rec.Dataset,
		Features: rec.Features,
		Removed:  rec.Removed,
		Detail:   rec.Detail,
	})
	if err != nil {
		log.Printf("Warning: failed to publish job event: %v", err)
	}
}

// failJob counts the failed run and maps the error to a response status.
func failJob(w http.ResponseWriter, tool string, err error) {
	shape.JobsTotal.WithLabelValues(tool, "error").Inc()
	toolError(w, err)
}

// toolError maps tool failures to HTTP statuses: geometry engine failures
// are 422, everything else a tool reports is an input condition and maps
// to 400. Storage and encoding failures go through serverError instead.
func toolError(w http.ResponseWriter, err error) {
	var ge *shape.GeometryError
	if errors.As(err, &ge) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func serverError(w http.ResponseWriter, err error) {
	log.Printf("Error handling request: %v", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// buildInfo assembles the dataset summary from the stored record and its
// freshly loaded collection.
func buildInfo(ds *shape.Dataset, c *shape.Collection) datasetInfo {
	b := c.Bound()
	return datasetInfo{
		Token:       ds.Token,
		Name:        ds.Name,
		Features:    c.Len(),
		Geometry:    geometrySummary(c),
		CRS:         crsLabel(c),
		Bounds:      [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
		TotalArea:   c.TotalArea(),
		Columns:     c.Columns,
		Encoding:    c.Encoding,
		CreatedAt:   ds.CreatedAt,
		Suggestions: shape.CommonEPSGCodes,
	}
}

// geometrySummary formats the geometry type breakdown, e.g.
// "Polygon (3), MultiPolygon (1)".
func geometrySummary(c *shape.Collection) string {
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
	return strings.Join(parts, ", ")
}

func crsLabel(c *shape.Collection) string {
	if c.CRS == nil {
		return "unknown"
	}
	return c.CRS.Label()
}

func baseName(name string) string {
	return strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formFloat(r *http.Request, name string, def float64) (float64, error) {
	v := r.FormValue(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return f, nil
}

func formInt(r *http.Request, name string, def int) (int, error) {
	v := r.FormValue(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

func formBool(r *http.Request, name string, def bool) (bool, error) {
	v := r.FormValue(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", name, v)
	}
	return b, nil
}

// metricPath collapses token-bearing paths so the request counter stays
// low-cardinality.
func metricPath(p string) string {
	switch {
	case knownMetricPaths[p]:
		return p
	case strings.HasPrefix(p, "/download/"):
		return "/download"
	default:
		return "other"
	}
}

var knownMetricPaths = map[string]bool{
	"/":               true,
	"/health":         true,
	"/metrics":        true,
	"/api/upload":     true,
	"/api/info":       true,
	"/api/datasets":   true,
	"/api/dedupe":     true,
	"/api/merge":      true,
	"/api/append":     true,
	"/api/reproject":  true,
	"/api/export-csv": true,
	"/api/excel-csv":  true,
	"/api/jobs":       true,
	"/preview.svg":    true,
	"/preview.png":    true,
}
