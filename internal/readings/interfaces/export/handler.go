package export

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"equipment-diagnosis/internal/readings/application"
	readings "equipment-diagnosis/internal/readings/domain"
)

// Handler serves reading exports and diagnosis reports.
type Handler struct {
	service *application.Service
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler constructs an export handler.
func NewHandler(service *application.Service, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("export handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger, now: time.Now}, nil
}

// Register mounts the export endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/export/readings.csv", h.handleCSV)
	mux.HandleFunc("/export/readings.xlsx", h.handleXLSX)
	mux.HandleFunc("/reports/", h.handleReport)
}

// handleCSV handles GET /export/readings.csv.
func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	list, ok := h.loadAll(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := WriteReadingsCSV(&buf, list); err != nil {
		h.logger.Error("csv export failed", zap.Error(err))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="readings.csv"`)
	_, _ = w.Write(buf.Bytes())
}

// handleXLSX handles GET /export/readings.xlsx.
func (h *Handler) handleXLSX(w http.ResponseWriter, r *http.Request) {
	list, ok := h.loadAll(w, r)
	if !ok {
		return
	}
	data, err := BuildReadingsXLSX(list)
	if err != nil {
		h.logger.Error("xlsx export failed", zap.Error(err))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="readings.xlsx"`)
	_, _ = w.Write(data)
}

// handleReport handles GET /reports/{equipment_id}.pdf.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/reports/")
	equipmentID, ok := strings.CutSuffix(name, ".pdf")
	if !ok || equipmentID == "" || strings.Contains(equipmentID, "/") {
		http.Error(w, "report not found", http.StatusNotFound)
		return
	}

	latest, err := h.service.LatestReading(r.Context(), equipmentID)
	if err != nil {
		if errors.Is(err, readings.ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		h.logger.Error("report query failed", zap.String("equipment_id", equipmentID), zap.Error(err))
		http.Error(w, "query readings error", http.StatusInternalServerError)
		return
	}
	data, err := BuildReportPDF(*latest, h.now())
	if err != nil {
		h.logger.Error("pdf render failed", zap.String("equipment_id", equipmentID), zap.Error(err))
		http.Error(w, "report error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	_, _ = w.Write(data)
}

func (h *Handler) loadAll(w http.ResponseWriter, r *http.Request) ([]readings.Reading, bool) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, false
	}
	list, err := h.service.DashboardData(r.Context())
	if err != nil {
		h.logger.Error("export query failed", zap.Error(err))
		http.Error(w, "query readings error", http.StatusInternalServerError)
		return nil, false
	}
	return list, true
}
