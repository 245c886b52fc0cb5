package handlers

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vayra-9/uiprobe/internal/models"
	"github.com/Vayra-9/uiprobe/internal/repository"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// RunStore reads stored run history
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
	GetRun(ctx context.Context, id string) (*models.RunResult, error)
}

// RunsPage is the data rendered by the run history template
type RunsPage struct {
	Title  string
	Runs   []models.RunSummary
	Passed int
	Failed int
}

// RunsHandler renders the run history page
type RunsHandler struct {
	template *template.Template
	store    RunStore
	title    string
	logger   *zap.Logger
}

// NewRunsHandler creates a new RunsHandler
func NewRunsHandler(templatePath, title string, store RunStore, logger *zap.Logger) (*RunsHandler, error) {
	tmpl, err := template.New("runs.html").Funcs(template.FuncMap{
		"duration": func(d time.Duration) string { return d.Round(time.Millisecond).String() },
		"when":     func(t time.Time) string { return t.Local().Format("2006-01-02 15:04:05") },
	}).ParseFiles(templatePath)
	if err != nil {
		return nil, err
	}
	return &RunsHandler{
		template: tmpl,
		store:    store,
		title:    title,
		logger:   logger,
	}, nil
}

// ServeHTTP handles the GET /runs request
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limitParam(r))
	if err != nil {
		h.logger.Error("error listing runs", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	page := RunsPage{Title: h.title, Runs: runs}
	for _, run := range runs {
		if run.Outcome == models.OutcomePassed {
			page.Passed++
		} else {
			page.Failed++
		}
	}
	if err := h.template.Execute(w, page); err != nil {
		h.logger.Error("error rendering runs page", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}

// RunsAPIHandler serves run history as JSON:
// GET /api/runs lists summaries, GET /api/runs/{id} returns one run.
type RunsAPIHandler struct {
	store  RunStore
	logger *zap.Logger
}

// NewRunsAPIHandler creates a new RunsAPIHandler
func NewRunsAPIHandler(store RunStore, logger *zap.Logger) *RunsAPIHandler {
	return &RunsAPIHandler{
		store:  store,
		logger: logger,
	}
}

// RunDetail is the JSON shape of a single run
type RunDetail struct {
	models.RunSummary
	Source     string                   `json:"source,omitempty"`
	Screenshot string                   `json:"screenshot,omitempty"`
	Assertions []models.AssertionResult `json:"assertions"`
}

// ServeHTTP handles the run history API
func (h *RunsAPIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendErrorResponse(w, "Only GET is supported", http.StatusMethodNotAllowed)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		runs, err := h.store.ListRuns(r.Context(), limitParam(r))
		if err != nil {
			h.logger.Error("error listing runs", zap.Error(err))
			sendErrorResponse(w, "Failed to list runs", http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []models.RunSummary{}
		}
		sendJSON(w, h.logger, runs)
		return
	}

	// run ids are UUIDs, anything else cannot exist
	if _, err := uuid.Parse(id); err != nil {
		sendErrorResponse(w, "Run not found", http.StatusNotFound)
		return
	}

	run, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, repository.ErrRunNotFound) {
		sendErrorResponse(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("error getting run", zap.String("run_id", id), zap.Error(err))
		sendErrorResponse(w, "Failed to get run", http.StatusInternalServerError)
		return
	}
	detail := RunDetail{
		RunSummary: run.Summary(),
		Source:     run.Source,
		Screenshot: run.Screenshot,
		Assertions: run.Assertions,
	}
	if detail.Assertions == nil {
		detail.Assertions = []models.AssertionResult{}
	}
	sendJSON(w, h.logger, detail)
}

// limitParam reads ?limit=, clamped to a sane range
func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
