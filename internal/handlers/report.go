package handlers

import (
	"net/http"
	"os"
	"path/filepath"
)

// ReportHandler serves the generated report directory
type ReportHandler struct {
	dir   string
	files http.Handler
}

// NewReportHandler creates a handler serving the reports in dir
func NewReportHandler(dir string) *ReportHandler {
	return &ReportHandler{
		dir:   dir,
		files: http.FileServer(http.Dir(dir)),
	}
}

// ServeHTTP handles GET requests for report files
func (h *ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path == "/" {
		if _, err := os.Stat(filepath.Join(h.dir, "index.html")); err != nil {
			http.Error(w, "No report found. Run `uiprobe run` first.", http.StatusNotFound)
			return
		}
	}
	h.files.ServeHTTP(w, r)
}
