package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"equipment-diagnosis/internal/audit"
	"equipment-diagnosis/internal/auth"
	"equipment-diagnosis/internal/observability/metrics"
	"equipment-diagnosis/internal/readings/application"
	readings "equipment-diagnosis/internal/readings/domain"
	"equipment-diagnosis/internal/readings/interfaces/csvimport"
)

// DefaultMaxUploadBytes caps an upload body when no limit is configured.
const DefaultMaxUploadBytes int64 = 32 << 20

// Handler provides the diagnosis HTTP endpoints.
type Handler struct {
	service        *application.Service
	audit          audit.Logger
	logger         *zap.Logger
	maxUploadBytes int64
}

// Option configures the handler.
type Option func(*Handler)

// WithAuditLogger records uploads and analyses.
func WithAuditLogger(logger audit.Logger) Option {
	return func(h *Handler) {
		h.audit = logger
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMaxUploadBytes caps the upload body size.
func WithMaxUploadBytes(limit int64) Option {
	return func(h *Handler) {
		if limit > 0 {
			h.maxUploadBytes = limit
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service, opts ...Option) (*Handler, error) {
	if service == nil {
		return nil, errors.New("readings handler: nil service")
	}
	h := &Handler{
		service:        service,
		logger:         zap.NewNop(),
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/upload_csv", h.handleUpload)
	mux.HandleFunc("/analyze/", h.handleAnalyze)
	mux.HandleFunc("/dashboard_data", h.handleDashboard)
	mux.HandleFunc("/health", h.handleHealth)
}

// handleUpload handles POST /upload_csv.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	data, err := h.readUpload(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.uploadFailed(w, start, http.StatusRequestEntityTooLarge, "payload_too_large",
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.uploadFailed(w, start, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	rows, err := csvimport.Parse(data)
	if err != nil {
		h.uploadFailed(w, start, http.StatusBadRequest, "invalid_csv", err.Error())
		return
	}

	count, err := h.service.Ingest(r.Context(), toNewReadings(rows))
	if err != nil {
		code := "storage_error"
		if errors.Is(err, application.ErrClassification) {
			code = "classification_error"
		}
		h.logger.Error("ingest failed", zap.Error(err))
		h.uploadFailed(w, start, http.StatusInternalServerError, code, err.Error())
		return
	}

	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(start))
	h.record(r, audit.ActionUpload, "upload", "", map[string]any{"rows": count})
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        fmt.Sprintf("Successfully processed %d rows", count),
		"rows_processed": count,
	})
}

func (h *Handler) uploadFailed(w http.ResponseWriter, start time.Time, status int, code, message string) {
	metrics.ObserveIngest(metrics.ResultError, time.Since(start))
	metrics.IncIngestError(code)
	writeError(w, status, code, message)
}

// readUpload returns the CSV bytes from a multipart "file" field or the raw body.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return nil, err
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("multipart field \"file\" is required: %w", err)
	}
	defer file.Close()
	return io.ReadAll(file)
}

func toNewReadings(rows []csvimport.Row) []application.NewReading {
	out := make([]application.NewReading, 0, len(rows))
	for _, row := range rows {
		out = append(out, application.NewReading{
			Timestamp:   row.Timestamp,
			EquipmentID: row.EquipmentID,
			Temp:        row.Temp,
			Vibration:   row.Vibration,
			Pressure:    row.Pressure,
			FailureType: row.FailureType,
		})
	}
	return out
}

// handleAnalyze handles POST /analyze/{equipment_id}.
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	equipmentID := strings.TrimPrefix(r.URL.Path, "/analyze/")
	if equipmentID == "" || strings.Contains(equipmentID, "/") {
		writeError(w, http.StatusNotFound, "not_found", "equipment_id is required")
		return
	}

	result, err := h.service.Analyze(r.Context(), equipmentID)
	if err != nil {
		if errors.Is(err, readings.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found",
				fmt.Sprintf("No data found for equipment %s", equipmentID))
			return
		}
		h.logger.Error("analyze failed", zap.String("equipment_id", equipmentID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	h.record(r, audit.ActionAnalyze, "equipment", equipmentID, map[string]any{"kind": result.Kind})
	if err := writeJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("encode analysis", zap.String("equipment_id", equipmentID), zap.Error(err))
	}
}

// handleDashboard handles GET /dashboard_data.
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	all, err := h.service.DashboardData(r.Context())
	if err != nil {
		h.logger.Error("dashboard query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	rows := make([]readingRow, 0, len(all))
	for _, reading := range all {
		rows = append(rows, toReadingRow(reading))
	}
	if err := writeJSON(w, http.StatusOK, map[string]any{"data": rows}); err != nil {
		h.logger.Error("encode dashboard", zap.Error(err))
	}
}

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	total, err := h.service.TotalRecords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"total_records": total,
	})
}

func (h *Handler) record(r *http.Request, action, resourceType, resourceID string, metadata map[string]any) {
	if h.audit == nil {
		return
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		payload = nil
	}
	entry := audit.FromRequest(r, audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     payload,
	})
	// The request already succeeded; an audit failure is logged, not returned.
	if err := h.audit.Log(context.WithoutCancel(r.Context()), entry); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
