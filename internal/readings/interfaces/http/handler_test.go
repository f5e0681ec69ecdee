package http

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"equipment-diagnosis/internal/audit"
	"equipment-diagnosis/internal/classifier"
	"equipment-diagnosis/internal/diagnosis"
	"equipment-diagnosis/internal/readings/application"
	"equipment-diagnosis/internal/readings/infrastructure/memory"
)

type diagnoserFunc func(ctx context.Context, in diagnosis.Input) diagnosis.Result

func (f diagnoserFunc) Diagnose(ctx context.Context, in diagnosis.Input) diagnosis.Result {
	return f(ctx, in)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

type fixture struct {
	mux   *http.ServeMux
	audit *recordingAudit
	seen  []diagnosis.Input
}

func newFixture(t *testing.T, result diagnosis.Result, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{mux: http.NewServeMux(), audit: &recordingAudit{}}
	diagnoser := diagnoserFunc(func(_ context.Context, in diagnosis.Input) diagnosis.Result {
		f.seen = append(f.seen, in)
		return result
	})
	svc, err := application.NewService(memory.NewReadingRepository(), classifier.NewPredictor("", nil), diagnoser)
	require.NoError(t, err)
	handler, err := NewHandler(svc, append([]Option{WithAuditLogger(f.audit)}, opts...)...)
	require.NoError(t, err)
	handler.Register(f.mux)
	return f
}

func (f *fixture) do(method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp := httptest.NewRecorder()
	f.mux.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body), resp.Body.String())
	return body
}

const eq9CSV = "timestamp,equipment_id,temp,vibration,pressure,failure_type\n" +
	"2024-01-01 00:00:00,EQ-9,99,52,86,1\n"

func TestUploadAnalyzeDashboard_EndToEnd(t *testing.T) {
	f := newFixture(t, diagnosis.Structured("위협", "bearing wear", "stop the line"))

	resp := f.do(http.MethodPost, "/upload_csv", []byte(eq9CSV), "text/csv")
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode(t, resp)
	require.Equal(t, "Successfully processed 1 rows", body["message"])
	require.EqualValues(t, 1, body["rows_processed"])

	resp = f.do(http.MethodPost, "/analyze/EQ-9", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"위협","diagnosis":"bearing wear","recommendation":"stop the line"}`, resp.Body.String())
	require.Equal(t, []diagnosis.Input{{EquipmentID: "EQ-9", Temp: 99, Vibration: 52, Pressure: 86}}, f.seen)

	resp = f.do(http.MethodGet, "/dashboard_data", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"data":[{
		"timestamp":"2024-01-01T00:00:00Z",
		"equipment_id":"EQ-9",
		"temp":99,"vibration":52,"pressure":86,
		"failure_type":1,
		"analysis":{"status":"위협","diagnosis":"bearing wear","recommendation":"stop the line"}
	}]}`, resp.Body.String())

	require.Len(t, f.audit.entries, 2)
	require.Equal(t, audit.ActionUpload, f.audit.entries[0].Action)
	require.Equal(t, audit.ActionAnalyze, f.audit.entries[1].Action)
	require.Equal(t, "EQ-9", f.audit.entries[1].ResourceID)
	require.Equal(t, "anonymous", f.audit.entries[1].Actor)
}

func TestUpload_Multipart(t *testing.T) {
	f := newFixture(t, diagnosis.RawText("unused"))

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "sensor_data.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("timestamp,equipment_id,temp,vibration,pressure\n" +
		"2024-01-01 00:00:00,EQ-1,60,10,100\n" +
		"2024-01-01 01:00:00,EQ-1,100,55,85\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp := f.do(http.MethodPost, "/upload_csv", buf.Bytes(), writer.FormDataContentType())
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.EqualValues(t, 2, decode(t, resp)["rows_processed"])

	resp = f.do(http.MethodGet, "/dashboard_data", nil, "")
	rows := decode(t, resp)["data"].([]any)
	require.Len(t, rows, 2)
	require.EqualValues(t, 0, rows[0].(map[string]any)["failure_type"])
	require.EqualValues(t, 1, rows[1].(map[string]any)["failure_type"])
	require.Nil(t, rows[0].(map[string]any)["analysis"])
}

func TestUpload_MultipartMissingField(t *testing.T) {
	f := newFixture(t, diagnosis.RawText("unused"))

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("other", "x"))
	require.NoError(t, writer.Close())

	resp := f.do(http.MethodPost, "/upload_csv", buf.Bytes(), writer.FormDataContentType())
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "invalid_upload", decode(t, resp)["error"])
}

func TestUpload_InvalidCSVStoresNothing(t *testing.T) {
	f := newFixture(t, diagnosis.RawText("unused"))

	csv := "timestamp,equipment_id,temp,vibration,pressure\n" +
		"2024-01-01 00:00:00,EQ-1,60,10,100\n" +
		"2024-01-01 01:00:00,EQ-1,hot,55,85\n"
	resp := f.do(http.MethodPost, "/upload_csv", []byte(csv), "text/csv")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	body := decode(t, resp)
	require.Equal(t, "invalid_csv", body["error"])
	require.NotEmpty(t, body["message"])

	resp = f.do(http.MethodGet, "/health", nil, "")
	require.JSONEq(t, `{"status":"healthy","total_records":0}`, resp.Body.String())
	require.Empty(t, f.audit.entries)
}

func TestUpload_TooLarge(t *testing.T) {
	f := newFixture(t, diagnosis.RawText("unused"), WithMaxUploadBytes(16))

	resp := f.do(http.MethodPost, "/upload_csv", []byte(eq9CSV), "text/csv")
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	require.Equal(t, "payload_too_large", decode(t, resp)["error"])
}

func TestAnalyze_UnknownEquipment(t *testing.T) {
	f := newFixture(t, diagnosis.RawText("unused"))

	resp := f.do(http.MethodPost, "/analyze/EQ-404", nil, "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	body := decode(t, resp)
	require.Equal(t, "not_found", body["error"])
	require.Contains(t, body["message"], "EQ-404")
	require.Empty(t, f.seen)
}

func TestAnalyze_UpstreamErrorIsPayload(t *testing.T) {
	f := newFixture(t, diagnosis.UpstreamError("status 500"))

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/upload_csv", []byte(eq9CSV), "text/csv").Code)
	resp := f.do(http.MethodPost, "/analyze/EQ-9", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"error":"status 500"}`, resp.Body.String())

	resp = f.do(http.MethodGet, "/dashboard_data", nil, "")
	rows := decode(t, resp)["data"].([]any)
	require.Equal(t, map[string]any{"error": "status 500"}, rows[0].(map[string]any)["analysis"])
}

func TestDashboard_Empty(t *testing.T) {
	f := newFixture(t, diagnosis.RawText("unused"))

	resp := f.do(http.MethodGet, "/dashboard_data", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"data":[]}`, resp.Body.String())
}

func TestHandlers_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, diagnosis.RawText("unused"))

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/upload_csv"},
		{http.MethodGet, "/analyze/EQ-1"},
		{http.MethodPost, "/dashboard_data"},
		{http.MethodDelete, "/health"},
	}
	for _, tc := range cases {
		resp := f.do(tc.method, tc.path, nil, "")
		require.Equal(t, http.StatusMethodNotAllowed, resp.Code, "%s %s", tc.method, tc.path)
	}
}

func TestNewHandler_NilService(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "nil service"))
}

func TestUpload_NonFiniteReadingStoresNothing(t *testing.T) {
	f := newFixture(t, diagnosis.RawText("unused"))

	csv := eq9CSV + "2024-01-01 01:00:00,EQ-9,NaN,52,86,1\n"
	resp := f.do(http.MethodPost, "/upload_csv", []byte(csv), "text/csv")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "invalid_csv", decode(t, resp)["error"])

	resp = f.do(http.MethodGet, "/dashboard_data", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"data":[]}`, resp.Body.String())
}

func TestWriteJSON_UnencodableBodyIsServerError(t *testing.T) {
	resp := httptest.NewRecorder()
	err := writeJSON(resp, http.StatusOK, map[string]any{"temp": math.NaN()})
	require.Error(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Equal(t, "application/json", resp.Header().Get("Content-Type"))

	body := decode(t, resp)
	require.Equal(t, "encoding_error", body["error"])
	require.NotEmpty(t, body["message"])
}

func TestDashboard_KeepsSubSecondTimestamps(t *testing.T) {
	f := newFixture(t, diagnosis.Structured("정상", "ok", "none"))

	csv := "timestamp,equipment_id,temp,vibration,pressure,failure_type\n" +
		"2024-01-01T00:00:00.250Z,EQ-1,60,10,100,0\n" +
		"2024-01-01T00:00:00.750Z,EQ-1,61,11,101,0\n"
	resp := f.do(http.MethodPost, "/upload_csv", []byte(csv), "text/csv")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = f.do(http.MethodPost, "/analyze/EQ-1", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, []diagnosis.Input{{EquipmentID: "EQ-1", Temp: 61, Vibration: 11, Pressure: 101}}, f.seen)

	resp = f.do(http.MethodGet, "/dashboard_data", nil, "")
	rows := decode(t, resp)["data"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].(map[string]any)
	second := rows[1].(map[string]any)
	require.Equal(t, "2024-01-01T00:00:00.25Z", first["timestamp"])
	require.Equal(t, "2024-01-01T00:00:00.75Z", second["timestamp"])
	require.Nil(t, first["analysis"])
	require.NotNil(t, second["analysis"])
}
