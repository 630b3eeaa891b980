package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mismobridge/internal/harness"
	"mismobridge/internal/pack"
	"mismobridge/internal/pipeline/metrics"
	"mismobridge/internal/pipeline/models"
	"mismobridge/internal/report"
	id "mismobridge/pkg/domain"
	"mismobridge/pkg/platform/httputil"
	"mismobridge/pkg/requestcontext"
)

// Service defines the pipeline operations the handler exposes.
type Service interface {
	Export(ctx context.Context, req models.ExportRequest) (*models.ExportResult, error)
	Import(ctx context.Context, req models.ImportRequest) (*models.ImportResult, error)
	Validate(ctx context.Context, req models.ValidateRequest) (*report.Report, error)
	Preflight(ctx context.Context, req models.PreflightRequest) (*report.Report, error)
	RunHarness(ctx context.Context, req models.HarnessRequest) (*harness.Summary, error)
	GetReport(ctx context.Context, reportID id.ReportID) (*models.StoredReport, error)
	GetQuarantine(ctx context.Context, quarantineID id.QuarantineID) (*models.Quarantine, error)
	Packs() []pack.Summary
	Pack(packID string) (*pack.Pack, error)
	Enum(packID, name string) ([]string, error)
}

// Handler wires pipeline endpoints to the pipeline service.
type Handler struct {
	service Service
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs a pipeline handler with its dependencies.
func New(service Service, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		metrics: metrics,
	}
}

// Register mounts pipeline endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/export", h.HandleExport)
	r.Post("/v1/import", h.HandleImport)
	r.Post("/v1/validate", h.HandleValidate)
	r.Post("/v1/preflight", h.HandlePreflight)
	r.Post("/v1/harness", h.HandleHarness)
	r.Get("/v1/reports/{id}", h.HandleGetReport)
	r.Get("/v1/quarantine/{id}", h.HandleGetQuarantine)
	r.Get("/v1/packs", h.HandleListPacks)
	r.Get("/v1/packs/{id}", h.HandleGetPack)
	r.Get("/v1/packs/{id}/enums/{name}", h.HandleGetEnum)
}

// HandleExport handles POST /v1/export requests.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[ExportRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Export(ctx, models.ExportRequest{
		Target:        req.target(),
		Record:        *req.Record,
		SkipPreflight: req.SkipPreflight,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "export failed",
			"request_id", requestID,
			"mode", req.Mode,
			"pack_id", req.PackID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "export served",
		"request_id", requestID,
		"run_id", res.RunID,
		"pack_id", res.PackID,
		"blocked", res.Blocked,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromExportResult(res))
}

// HandleImport handles POST /v1/import requests.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[ImportRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Import(ctx, models.ImportRequest{
		Target:     req.target(),
		Document:   []byte(req.Document),
		AutoDetect: req.AutoDetect(),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "import failed",
			"request_id", requestID,
			"mode", req.Mode,
			"pack_id", req.PackID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "import served",
		"request_id", requestID,
		"run_id", res.RunID,
		"pack_id", res.PackID,
		"quarantined", res.Quarantined,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromImportResult(res))
}

// HandleValidate handles POST /v1/validate requests.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ValidateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rep, err := h.service.Validate(ctx, models.ValidateRequest{Target: req.target(), Document: []byte(req.Document)})
	if err != nil {
		h.logger.ErrorContext(ctx, "validation failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rep)
}

// HandlePreflight handles POST /v1/preflight requests.
func (h *Handler) HandlePreflight(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[PreflightRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rep, err := h.service.Preflight(ctx, models.PreflightRequest{Target: req.target(), Record: *req.Record})
	if err != nil {
		h.logger.ErrorContext(ctx, "preflight failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rep)
}

// HandleHarness handles POST /v1/harness requests.
func (h *Handler) HandleHarness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[HarnessRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	sum, err := h.service.RunHarness(ctx, models.HarnessRequest{
		Target:  req.target(),
		Cases:   req.Cases,
		Seed:    req.Seed,
		Timeout: req.Timeout(),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "harness run failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSummary(sum))
}

// HandleGetReport handles GET /v1/reports/{id} requests.
func (h *Handler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reportID, err := id.ParseReportID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	stored, err := h.service.GetReport(ctx, reportID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromStoredReport(stored))
}

// HandleGetQuarantine handles GET /v1/quarantine/{id} requests.
func (h *Handler) HandleGetQuarantine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	quarantineID, err := id.ParseQuarantineID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	q, err := h.service.GetQuarantine(ctx, quarantineID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, q)
}

// HandleListPacks handles GET /v1/packs requests.
func (h *Handler) HandleListPacks(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"packs": h.service.Packs()})
}

// HandleGetPack handles GET /v1/packs/{id} requests.
func (h *Handler) HandleGetPack(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Pack(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// HandleGetEnum handles GET /v1/packs/{id}/enums/{name} requests.
func (h *Handler) HandleGetEnum(w http.ResponseWriter, r *http.Request) {
	packID, name := chi.URLParam(r, "id"), chi.URLParam(r, "name")
	values, err := h.service.Enum(packID, name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EnumResponse{PackID: packID, Name: name, Values: values})
}
