// Package handlers provides HTTP handlers for the visit record API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/clinichq/nurselog/internal/api/middleware"
	"github.com/clinichq/nurselog/internal/domain/record"
	"github.com/clinichq/nurselog/internal/mirror"
	"github.com/clinichq/nurselog/internal/observability/metrics"
	"github.com/clinichq/nurselog/internal/reconcile"
	"github.com/clinichq/nurselog/internal/store"
)

const (
	defaultPerPage = 20
	maxPerPage     = 200
	maxUploadBytes = 32 << 20
)

// RecordHandler handles visit record endpoints
type RecordHandler struct {
	store     *store.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
	exportDir string
}

// NewRecordHandler creates a new handler
func NewRecordHandler(st *store.Store, m *metrics.Metrics, logger *zap.Logger, exportDir string) *RecordHandler {
	return &RecordHandler{
		store:     st,
		metrics:   m,
		logger:    logger,
		exportDir: exportDir,
	}
}

// Routes returns the handler routes
func (h *RecordHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/export", h.Export)
	r.Post("/import", h.Import)
	r.Get("/{patientID}", h.Get)
	r.Put("/{patientID}", h.Update)
	r.Delete("/{patientID}", h.Delete)
	return r
}

// Create handles POST /records. The body carries form-layout fields:
// free-form keys, Fahrenheit temperature, possibly a combined blood
// pressure reading. Everything is normalized before storage.
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("record-handler")
	ctx, span := tracer.Start(ctx, "create_record")
	defer span.End()

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	row := reconcile.NewRow(stringify(body))
	rec, err := reconcile.Reconcile(row, reconcile.Form, time.Now().UTC())
	if err != nil {
		h.metrics.ValidationFailed.Inc()
		h.validationError(w, err)
		return
	}

	if err := h.store.Create(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicatePatientID) {
			h.metrics.DuplicatePatients.Inc()
			h.jsonError(w, "patient ID already exists", http.StatusConflict)
			return
		}
		var verr *record.ValidationError
		if errors.As(err, &verr) {
			h.metrics.ValidationFailed.Inc()
			h.validationError(w, err)
			return
		}
		h.logger.Error("create failed", zap.Error(err))
		h.jsonError(w, "failed to create record", http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.String("patient_id", rec.PatientID))
	h.metrics.RecordsCreated.Inc()
	h.logger.Info("record created",
		zap.String("patient_id", rec.PatientID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec)
}

// Get handles GET /records/{patientID}
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID := chi.URLParam(r, "patientID")

	rec, err := h.store.GetByPatientID(ctx, patientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.jsonError(w, "record not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get failed", zap.Error(err))
		h.jsonError(w, "failed to load record", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// List handles GET /records. With a q parameter it searches full name,
// patient ID and nurse name; without it, lists every record.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	term := r.URL.Query().Get("q")
	page, perPage := pagination(r)

	start := time.Now()
	var (
		result *store.Page
		err    error
	)
	if term != "" {
		result, err = h.store.Search(ctx, term, page, perPage)
	} else {
		result, err = h.store.List(ctx, page, perPage)
	}
	h.metrics.SearchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		h.logger.Error("list failed", zap.Error(err))
		h.jsonError(w, "failed to list records", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Update handles PUT /records/{patientID}. The body is a partial set of
// canonical field names; omitted fields keep their stored values.
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID := chi.URLParam(r, "patientID")

	var changes map[string]any
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(changes) == 0 {
		h.jsonError(w, "no fields to update", http.StatusBadRequest)
		return
	}

	rec, err := h.store.Update(ctx, patientID, changes)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.jsonError(w, "record not found", http.StatusNotFound)
			return
		}
		var verr *record.ValidationError
		if errors.As(err, &verr) {
			h.metrics.ValidationFailed.Inc()
			h.validationError(w, err)
			return
		}
		h.logger.Error("update failed", zap.Error(err))
		h.jsonError(w, "failed to update record", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordsUpdated.Inc()
	h.logger.Info("record updated",
		zap.String("patient_id", patientID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// Delete handles DELETE /records/{patientID}
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID := chi.URLParam(r, "patientID")

	if err := h.store.Delete(ctx, patientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.jsonError(w, "record not found", http.StatusNotFound)
			return
		}
		h.logger.Error("delete failed", zap.Error(err))
		h.jsonError(w, "failed to delete record", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordsDeleted.Inc()
	h.logger.Info("record deleted",
		zap.String("patient_id", patientID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.WriteHeader(http.StatusNoContent)
}

// Export handles GET /records/export and streams a timestamped workbook
// of every stored record.
func (h *RecordHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("record-handler")
	ctx, span := tracer.Start(ctx, "export_records")
	defer span.End()

	records, err := h.store.All(ctx)
	if err != nil {
		h.logger.Error("export query failed", zap.Error(err))
		h.jsonError(w, "failed to export records", http.StatusInternalServerError)
		return
	}

	if err := os.MkdirAll(h.exportDir, 0o755); err != nil {
		h.logger.Error("export dir creation failed", zap.Error(err))
		h.jsonError(w, "failed to export records", http.StatusInternalServerError)
		return
	}

	path := mirror.ExportFilename(h.exportDir, time.Now())
	if err := mirror.Export(records, path); err != nil {
		h.logger.Error("export failed", zap.Error(err))
		h.jsonError(w, "failed to export records", http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.Int("record_count", len(records)))
	h.metrics.ExportsRun.Inc()
	h.logger.Info("records exported",
		zap.String("path", path),
		zap.Int("count", len(records)),
	)

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// ImportResponse summarizes an import run
type ImportResponse struct {
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// Import handles POST /records/import with a multipart "file" field
// holding an xlsx or csv upload.
func (h *RecordHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("record-handler")
	ctx, span := tracer.Start(ctx, "import_records")
	defer span.End()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.jsonError(w, "invalid multipart request", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.jsonError(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".xlsx" && ext != ".csv" {
		h.jsonError(w, "unsupported file type: "+ext, http.StatusBadRequest)
		return
	}

	tmp, err := os.CreateTemp("", "nurselog-import-*"+ext)
	if err != nil {
		h.logger.Error("temp file creation failed", zap.Error(err))
		h.jsonError(w, "failed to import records", http.StatusInternalServerError)
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		h.logger.Error("upload copy failed", zap.Error(err))
		h.jsonError(w, "failed to import records", http.StatusInternalServerError)
		return
	}
	tmp.Close()

	report, err := mirror.ImportFile(ctx, tmp.Name(), h.store, h.logger, time.Now().UTC())
	if err != nil {
		h.logger.Error("import failed", zap.Error(err))
		h.jsonError(w, "failed to import records: "+err.Error(), http.StatusBadRequest)
		return
	}

	h.metrics.ImportRows.WithLabelValues("imported").Add(float64(report.Imported))
	h.metrics.ImportRows.WithLabelValues("failed").Add(float64(report.Failed))
	span.SetAttributes(
		attribute.Int("imported", report.Imported),
		attribute.Int("failed", report.Failed),
	)
	h.logger.Info("records imported",
		zap.String("filename", header.Filename),
		zap.Int("imported", report.Imported),
		zap.Int("failed", report.Failed),
	)

	resp := ImportResponse{Imported: report.Imported, Failed: report.Failed}
	for _, re := range report.Errors {
		resp.Errors = append(resp.Errors, re.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// validationError writes a 400 with field detail when the error carries it
func (h *RecordHandler) validationError(w http.ResponseWriter, err error) {
	var verr *record.ValidationError
	if errors.As(err, &verr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": verr.Message,
			"field": verr.Field,
		})
		return
	}
	h.jsonError(w, err.Error(), http.StatusBadRequest)
}

func (h *RecordHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// stringify flattens a decoded JSON body into the string map the
// reconciler consumes. Numbers keep their shortest representation.
func stringify(body map[string]any) map[string]string {
	out := make(map[string]string, len(body))
	for k, v := range body {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			if val {
				out[k] = "Yes"
			} else {
				out[k] = "No"
			}
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

func pagination(r *http.Request) (page, perPage int) {
	page = 1
	perPage = defaultPerPage
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxPerPage {
			perPage = n
		}
	}
	return page, perPage
}
