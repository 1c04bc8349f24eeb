package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/savrin/waveline/internal/domain"
	"github.com/savrin/waveline/internal/orchestrator"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	engine *orchestrator.Engine
	logger *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Engine *orchestrator.Engine
	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: cfg.Engine, logger: logger}
}

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	mux.Handle("POST /api/v1/jobs", chain(http.HandlerFunc(h.SubmitJob)))
	mux.Handle("GET /api/v1/jobs/{id}", chain(http.HandlerFunc(h.GetJob)))
	mux.Handle("POST /api/v1/jobs/{id}/retry", chain(http.HandlerFunc(h.RetryJob)))
	mux.Handle("GET /api/v1/jobs/{id}/steps/{name}/hydrate", chain(http.HandlerFunc(h.HydrateStep)))
}

// SubmitJob — POST /api/v1/jobs.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Steps) == 0 {
		BadRequest(w, "pipeline has no steps")
		return
	}

	job, err := h.engine.Submit(r.Context(), req.ToDomain())
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Created(w, SubmitJobResponse{JobID: job.ID, Status: string(domain.JobStatusPending)})
}

// GetJob — GET /api/v1/jobs/{id}.
// Возвращает полный документ: статусы, связанные входы, произведённые
// выходы, ошибки и таймстемпы каждого шага. Безопасен для polling.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if HandleEngineError(w, h.logger, err) {
		return
	}
	Success(w, job)
}

// RetryJob — POST /api/v1/jobs/{id}/retry.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	resume, err := h.engine.Retry(r.Context(), r.PathValue("id"))
	if HandleEngineError(w, h.logger, err) {
		return
	}
	Success(w, RetryJobResponse{
		Status:     string(domain.JobStatusRetrying),
		ResumeStep: resume,
	})
}

// HydrateStep — GET /api/v1/jobs/{id}/steps/{name}/hydrate?instance=N.
// Единственный механизм получения воркером своих инструкций.
func (h *Handler) HydrateStep(w http.ResponseWriter, r *http.Request) {
	instance := -1
	if raw := r.URL.Query().Get("instance"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			BadRequest(w, "instance must be a non-negative integer")
			return
		}
		instance = parsed
	}

	hydrated, err := h.engine.Hydrate(r.Context(), r.PathValue("id"), r.PathValue("name"), instance)
	if HandleEngineError(w, h.logger, err) {
		return
	}
	Success(w, hydrated)
}
