package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shapekit/shapekit/shape"
	"github.com/xuri/excelize/v2"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// testServer builds a handler over a fresh dataset store, without job
// history or MQTT.
func testServer(t *testing.T) (http.Handler, *shape.DatasetStore) {
	t.Helper()
	store := shape.NewDatasetStore(t.TempDir(), 0)
	return newHTTPServer(store, nil, nil, shape.DefaultConfig()), store
}

// zipBytes packages the collection as an in-memory shapefile ZIP.
func zipBytes(t *testing.T, c *shape.Collection) []byte {
	t.Helper()
	shpPath := filepath.Join(t.TempDir(), "upload.shp")
	if err := shape.WriteShapefile(c, shpPath); err != nil {
		t.Fatalf("WriteShapefile failed: %v", err)
	}
	var buf bytes.Buffer
	if err := shape.PackageShapefile(shpPath, &buf); err != nil {
		t.Fatalf("PackageShapefile failed: %v", err)
	}
	return buf.Bytes()
}

// multipartBody builds a multipart form with one file field plus any extra
// text fields.
func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("writing form file failed: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField %s failed: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer failed: %v", err)
	}
	return &body, mw.FormDataContentType()
}

// uploadDataset uploads the collection and returns its dataset token.
func uploadDataset(t *testing.T, handler http.Handler, c *shape.Collection) string {
	t.Helper()
	body, contentType := multipartBody(t, "parcels.zip", zipBytes(t, c), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("/api/upload status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode upload response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("upload returned an empty token")
	}
	return resp.Token
}

// postForm sends a urlencoded POST to the handler.
func postForm(handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func doGet(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /health
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	handler, _ := testServer(t)
	w := doGet(handler, "/health")

	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Status   string `json:"status"`
		Datasets int    `json:"datasets"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode /health response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Datasets != 0 {
		t.Errorf("datasets = %d, want 0", body.Datasets)
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /api/upload
// ---------------------------------------------------------------------------

func TestUpload_ValidZip(t *testing.T) {
	handler, _ := testServer(t)
	body, contentType := multipartBody(t, "parcels.zip", zipBytes(t, testCollection(parcel(0, 0, 10), parcel(20, 0, 10))), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("/api/upload status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
		Info  struct {
			Features int    `json:"features"`
			Geometry string `json:"geometry"`
			CRS      string `json:"crs"`
		} `json:"info"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode upload response: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a non-empty token")
	}
	if resp.Info.Features != 2 {
		t.Errorf("features = %d, want 2", resp.Info.Features)
	}
	if !strings.Contains(resp.Info.Geometry, "Polygon") {
		t.Errorf("geometry = %q, want a Polygon breakdown", resp.Info.Geometry)
	}
	if !strings.Contains(resp.Info.CRS, "4326") {
		t.Errorf("crs = %q, want EPSG:4326 from the .prj sidecar", resp.Info.CRS)
	}
}

func TestUpload_BadArchive(t *testing.T) {
	handler, _ := testServer(t)
	body, contentType := multipartBody(t, "junk.zip", []byte("not a zip archive"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("/api/upload status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUpload_MissingFile(t *testing.T) {
	handler, _ := testServer(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", "parcels"); err != nil {
		t.Fatalf("WriteField failed: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("/api/upload status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /api/info
// ---------------------------------------------------------------------------

func TestInfo_ReturnsSummary(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(parcel(0, 0, 10), parcel(20, 0, 10)))

	w := doGet(handler, "/api/info?token="+token)
	if w.Code != http.StatusOK {
		t.Fatalf("/api/info status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}

	var info struct {
		Features  int        `json:"features"`
		TotalArea float64    `json:"totalArea"`
		Bounds    [4]float64 `json:"bounds"`
		Columns   []string   `json:"columns"`
	}
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("failed to decode /api/info response: %v", err)
	}
	if info.Features != 2 {
		t.Errorf("features = %d, want 2", info.Features)
	}
	if info.TotalArea != 200 {
		t.Errorf("totalArea = %f, want 200", info.TotalArea)
	}
	if info.Bounds != [4]float64{0, 0, 30, 10} {
		t.Errorf("bounds = %v, want [0 0 30 10]", info.Bounds)
	}
	if len(info.Columns) != 1 || info.Columns[0] != "name" {
		t.Errorf("columns = %v, want [name]", info.Columns)
	}
}

func TestInfo_UnknownToken(t *testing.T) {
	handler, _ := testServer(t)
	w := doGet(handler, "/api/info?token=nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("/api/info status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestInfo_MissingToken(t *testing.T) {
	handler, _ := testServer(t)
	w := doGet(handler, "/api/info")
	if w.Code != http.StatusBadRequest {
		t.Errorf("/api/info status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /api/dedupe
// ---------------------------------------------------------------------------

func TestDedupe_RemovesDuplicates(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(
		parcel(0, 0, 10),
		parcel(0, 0, 10),
		parcel(50, 50, 10),
	))

	w := postForm(handler, "/api/dedupe", url.Values{"token": {token}})
	if w.Code != http.StatusOK {
		t.Fatalf("/api/dedupe status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Report struct {
			Total     int `json:"total"`
			Removed   int `json:"removed"`
			Remaining int `json:"remaining"`
		} `json:"report"`
		RemovedIndices []int  `json:"removedIndices"`
		ResultToken    string `json:"resultToken"`
		Download       string `json:"download"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode /api/dedupe response: %v", err)
	}
	if resp.Report.Total != 3 || resp.Report.Removed != 1 || resp.Report.Remaining != 2 {
		t.Errorf("report = %+v, want total 3, removed 1, remaining 2", resp.Report)
	}
	if len(resp.RemovedIndices) != 1 || resp.RemovedIndices[0] != 1 {
		t.Errorf("removedIndices = %v, want [1]", resp.RemovedIndices)
	}
	if resp.ResultToken == "" {
		t.Error("expected a result token")
	}

	dl := doGet(handler, resp.Download)
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d, want %d, body=%q", dl.Code, http.StatusOK, dl.Body.String())
	}
	if ct := dl.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/zip")
	}
	if cd := dl.Header().Get("Content-Disposition"); !strings.Contains(cd, "dedup_") {
		t.Errorf("Content-Disposition = %q, want a dedup_ filename", cd)
	}
	if dl.Body.Len() == 0 {
		t.Error("download body is empty; expected ZIP data")
	}
}

func TestDedupe_InvalidTolerance(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(parcel(0, 0, 10)))

	w := postForm(handler, "/api/dedupe", url.Values{
		"token":              {token},
		"area_tolerance_pct": {"150"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("/api/dedupe status = %d, want %d, body=%q", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestDedupe_BadNumber(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(parcel(0, 0, 10)))

	w := postForm(handler, "/api/dedupe", url.Values{
		"token":              {token},
		"area_tolerance_pct": {"not-a-number"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("/api/dedupe status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestDedupe_UnknownToken(t *testing.T) {
	handler, _ := testServer(t)
	w := postForm(handler, "/api/dedupe", url.Values{"token": {"nope"}})
	if w.Code != http.StatusNotFound {
		t.Errorf("/api/dedupe status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /api/merge and /api/append
// ---------------------------------------------------------------------------

func TestMerge_CombinesDatasets(t *testing.T) {
	handler, _ := testServer(t)
	a := uploadDataset(t, handler, testCollection(parcel(0, 0, 10), parcel(20, 0, 10)))
	b := uploadDataset(t, handler, testCollection(parcel(40, 0, 10)))

	w := postForm(handler, "/api/merge", url.Values{"tokens": {a + "," + b}})
	if w.Code != http.StatusOK {
		t.Fatalf("/api/merge status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Report struct {
			Inputs         int `json:"inputs"`
			OutputFeatures int `json:"output_features"`
		} `json:"report"`
		Download string `json:"download"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode /api/merge response: %v", err)
	}
	if resp.Report.Inputs != 2 || resp.Report.OutputFeatures != 3 {
		t.Errorf("report = %+v, want 2 inputs and 3 output features", resp.Report)
	}

	dl := doGet(handler, resp.Download)
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d, want %d", dl.Code, http.StatusOK)
	}
	if cd := dl.Header().Get("Content-Disposition"); !strings.Contains(cd, "merged_") {
		t.Errorf("Content-Disposition = %q, want a merged_ filename", cd)
	}
}

func TestMerge_SingleToken(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(parcel(0, 0, 10)))

	w := postForm(handler, "/api/merge", url.Values{"tokens": {token}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("/api/merge status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAppend_TwoDatasets(t *testing.T) {
	handler, _ := testServer(t)
	a := uploadDataset(t, handler, testCollection(parcel(0, 0, 10), parcel(20, 0, 10)))
	b := uploadDataset(t, handler, testCollection(parcel(40, 0, 10)))

	w := postForm(handler, "/api/append", url.Values{"token_a": {a}, "token_b": {b}})
	if w.Code != http.StatusOK {
		t.Fatalf("/api/append status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Report struct {
			OutputFeatures int `json:"output_features"`
		} `json:"report"`
		Download string `json:"download"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode /api/append response: %v", err)
	}
	if resp.Report.OutputFeatures != 3 {
		t.Errorf("output_features = %d, want 3", resp.Report.OutputFeatures)
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /api/reproject
// ---------------------------------------------------------------------------

func TestReproject_GeoJSON(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(parcel(0, 0, 10), parcel(20, 0, 10)))

	w := postForm(handler, "/api/reproject", url.Values{
		"token":       {token},
		"target_epsg": {"3857"},
		"format":      {"geojson"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("/api/reproject status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		CRS      string `json:"crs"`
		Features int    `json:"features"`
		Download string `json:"download"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode /api/reproject response: %v", err)
	}
	if !strings.Contains(resp.CRS, "3857") {
		t.Errorf("crs = %q, want EPSG:3857", resp.CRS)
	}
	if resp.Features != 2 {
		t.Errorf("features = %d, want 2", resp.Features)
	}
	if !strings.HasSuffix(resp.Download, ".geojson") {
		t.Errorf("download = %q, want a .geojson link", resp.Download)
	}

	dl := doGet(handler, resp.Download)
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d, want %d", dl.Code, http.StatusOK)
	}
	if ct := dl.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/geo+json")
	}
	if !strings.Contains(dl.Body.String(), "FeatureCollection") {
		t.Error("expected a GeoJSON FeatureCollection in the download body")
	}
}

func TestReproject_MissingEPSG(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(parcel(0, 0, 10)))

	w := postForm(handler, "/api/reproject", url.Values{"token": {token}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("/api/reproject status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestReproject_UnknownFormat(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(parcel(0, 0, 10)))

	w := postForm(handler, "/api/reproject", url.Values{
		"token":       {token},
		"target_epsg": {"3857"},
		"format":      {"gpkg"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("/api/reproject status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /api/export-csv
// ---------------------------------------------------------------------------

func TestExportCSV_StreamsRows(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(parcel(0, 0, 10), parcel(20, 0, 10)))

	w := postForm(handler, "/api/export-csv", url.Values{
		"token":            {token},
		"include_geometry": {"true"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("/api/export-csv status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/csv; charset=utf-8")
	}
	body := w.Body.String()
	if !strings.Contains(body, "parcel-0") {
		t.Errorf("expected attribute rows, got: %.200s", body)
	}
	if !strings.Contains(body, "POLYGON") {
		t.Errorf("expected WKT geometry column, got: %.200s", body)
	}
}

func TestExportCSV_UnknownColumn(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(parcel(0, 0, 10)))

	w := postForm(handler, "/api/export-csv", url.Values{
		"token":   {token},
		"columns": {"bogus"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("/api/export-csv status = %d, want %d, body=%q", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /api/excel-csv
// ---------------------------------------------------------------------------

func workbookBytes(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	cells := map[string]interface{}{
		"A1": "id", "B1": "code",
		"A2": 1, "B2": "alpha",
	}
	for cell, v := range cells {
		if err := f.SetCellValue("Sheet1", cell, v); err != nil {
			t.Fatalf("set %s: %v", cell, err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestExcelCSV_ConvertsFirstSheet(t *testing.T) {
	handler, _ := testServer(t)
	body, contentType := multipartBody(t, "book.xlsx", workbookBytes(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/excel-csv", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("/api/excel-csv status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/csv; charset=utf-8")
	}
	if got, want := w.Body.String(), "id,code\n1,alpha\n"; got != want {
		t.Errorf("CSV = %q, want %q", got, want)
	}
}

func TestExcelCSV_UnknownSheet(t *testing.T) {
	handler, _ := testServer(t)
	body, contentType := multipartBody(t, "book.xlsx", workbookBytes(t), map[string]string{"sheet": "Missing"})
	req := httptest.NewRequest(http.MethodPost, "/api/excel-csv", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("/api/excel-csv status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- preview endpoints
// ---------------------------------------------------------------------------

func TestPreviewSVG(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(parcel(0, 0, 10), parcel(20, 0, 10)))

	w := doGet(handler, "/preview.svg?token="+token)
	if w.Code != http.StatusOK {
		t.Fatalf("/preview.svg status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("Content-Type = %q, want %q", ct, "image/svg+xml")
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want %q", cc, "no-cache")
	}
	if !strings.Contains(w.Body.String(), "<svg") {
		t.Error("expected SVG markup in response body")
	}
}

func TestPreviewPNG(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(parcel(0, 0, 10)))

	w := doGet(handler, "/preview.png?token="+token)
	if w.Code != http.StatusOK {
		t.Fatalf("/preview.png status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want %q", ct, "image/png")
	}
	if w.Body.Len() == 0 {
		t.Error("response body is empty; expected PNG data")
	}
}

func TestPreviewSVG_HighlightDupes(t *testing.T) {
	handler, _ := testServer(t)
	token := uploadDataset(t, handler, testCollection(
		parcel(0, 0, 10),
		parcel(0, 0, 10),
		parcel(50, 50, 10),
	))

	w := doGet(handler, "/preview.svg?token="+token+"&highlight=dupes")
	if w.Code != http.StatusOK {
		t.Fatalf("/preview.svg status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "<svg") {
		t.Error("expected SVG markup in response body")
	}
}

func TestPreview_UnknownToken(t *testing.T) {
	handler, _ := testServer(t)
	w := doGet(handler, "/preview.svg?token=nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("/preview.svg status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /download/
// ---------------------------------------------------------------------------

func TestDownload_UnknownToken(t *testing.T) {
	handler, _ := testServer(t)
	w := doGet(handler, "/download/nope.zip")
	if w.Code != http.StatusNotFound {
		t.Errorf("/download status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /api/jobs
// ---------------------------------------------------------------------------

func TestJobs_NoHistory(t *testing.T) {
	handler, _ := testServer(t)
	w := doGet(handler, "/api/jobs")
	if w.Code != http.StatusOK {
		t.Fatalf("/api/jobs status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want an empty array", got)
	}
}

func TestJobs_RecordsRuns(t *testing.T) {
	store := shape.NewDatasetStore(t.TempDir(), 0)
	history, err := shape.OpenJobHistory(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("OpenJobHistory failed: %v", err)
	}
	defer history.Close()
	handler := newHTTPServer(store, history, nil, shape.DefaultConfig())

	token := uploadDataset(t, handler, testCollection(parcel(0, 0, 10), parcel(0, 0, 10)))
	if w := postForm(handler, "/api/dedupe", url.Values{"token": {token}}); w.Code != http.StatusOK {
		t.Fatalf("/api/dedupe status = %d, want %d, body=%q", w.Code, http.StatusOK, w.Body.String())
	}

	w := doGet(handler, "/api/jobs")
	if w.Code != http.StatusOK {
		t.Fatalf("/api/jobs status = %d, want %d", w.Code, http.StatusOK)
	}
	var records []struct {
		Tool    string `json:"tool"`
		Removed int    `json:"removed"`
	}
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("failed to decode /api/jobs response: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 job record, got %d", len(records))
	}
	if records[0].Tool != "dedupe" {
		t.Errorf("tool = %q, want %q", records[0].Tool, "dedupe")
	}
	if records[0].Removed != 1 {
		t.Errorf("removed = %d, want 1", records[0].Removed)
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /api/datasets
// ---------------------------------------------------------------------------

func TestDatasets_ListsUploads(t *testing.T) {
	handler, _ := testServer(t)
	uploadDataset(t, handler, testCollection(parcel(0, 0, 10)))

	w := doGet(handler, "/api/datasets")
	if w.Code != http.StatusOK {
		t.Fatalf("/api/datasets status = %d, want %d", w.Code, http.StatusOK)
	}
	var list []struct {
		Token    string `json:"token"`
		Features int    `json:"features"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode /api/datasets response: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 dataset, got %d", len(list))
	}
	if list[0].Token == "" || list[0].Features != 1 {
		t.Errorf("dataset = %+v, want a token and 1 feature", list[0])
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- index and metrics
// ---------------------------------------------------------------------------

func TestIndex(t *testing.T) {
	handler, _ := testServer(t)
	w := doGet(handler, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("/ status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(w.Body.String(), "shapekit") {
		t.Error("expected the index page to mention shapekit")
	}
}

func TestIndex_UnknownPath(t *testing.T) {
	handler, _ := testServer(t)
	w := doGet(handler, "/nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("/nope status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMetrics_Exposed(t *testing.T) {
	handler, _ := testServer(t)
	w := doGet(handler, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "shapekit_dedupe_removed_total") {
		t.Error("expected shapekit metrics in the scrape output")
	}
}
