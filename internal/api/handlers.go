package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sengac/mindstrike-sub006/internal/catalog"
	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.health.Statuses()
	code := http.StatusOK
	if !s.health.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"healthy": s.health.IsHealthy(),
		"checks":  statuses,
	})
}

// ─── Models ─────────────────────────────────────────────────────────────────

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.worker.GetLocalModels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	s.syncCatalog(models)
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

type loadRequest struct {
	ThreadID string                       `json:"threadId,omitempty"`
	Settings *domain.ModelLoadingSettings `json:"settings,omitempty"`
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")

	var req loadRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
			return
		}
	}

	// Explicit settings win; otherwise any persisted settings ride along.
	settings := req.Settings
	if settings == nil {
		stored, err := s.settings.Get(model)
		if err == nil && !isZeroSettings(stored) {
			settings = &stored
		}
	}

	snap, err := s.worker.LoadModel(r.Context(), model, req.ThreadID, settings)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.db != nil {
		if err := s.db.TouchModel(snap.ModelID); err != nil {
			log.Printf("[api] touch %s: %v", snap.ModelID, err)
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	if err := s.worker.UnloadModel(r.Context(), chi.URLParam(r, "model")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unloaded"})
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	if err := s.worker.DeleteModel(r.Context(), model); err != nil {
		writeError(w, err)
		return
	}
	if s.db != nil {
		// The row may never have been mirrored; only real failures matter.
		if err := s.db.DeleteModel(model); err != nil && !errors.Is(err, domain.ErrModelNotFound) {
			log.Printf("[api] delete catalog row %s: %v", model, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRuntimeInfo(w http.ResponseWriter, r *http.Request) {
	snap, err := s.worker.RuntimeInfo(r.Context(), chi.URLParam(r, "model"))
	if err != nil {
		writeError(w, err)
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusOK, map[string]any{"loaded": false})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ─── Settings ───────────────────────────────────────────────────────────────

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	stored, err := s.settings.Get(chi.URLParam(r, "model"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.ModelLoadingSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
		return
	}
	if err := s.settings.Set(chi.URLParam(r, "model"), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleOptimalSettings(w http.ResponseWriter, r *http.Request) {
	var requested *domain.ModelLoadingSettings
	if r.ContentLength > 0 {
		requested = &domain.ModelLoadingSettings{}
		if err := json.NewDecoder(r.Body).Decode(requested); err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
			return
		}
	}

	plan, err := s.worker.OptimalSettings(r.Context(), chi.URLParam(r, "model"), requested)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// ─── Generation ─────────────────────────────────────────────────────────────

type generateRequest struct {
	Model    string                 `json:"model"`
	Messages []domain.ChatMessage   `json:"messages"`
	Options  domain.GenerateOptions `json:"options"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
		return
	}

	result, err := s.worker.Generate(r.Context(), req.Model, req.Messages, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordUsage(req.Model, int64(result.TokensGenerated))
	writeJSON(w, http.StatusOK, result)
}

// handleGenerateStream streams tokens as server-sent events. Client
// disconnect cancels the request context, which aborts the generation in
// the worker.
func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
		return
	}

	ch, err := s.worker.GenerateStream(r.Context(), req.Model, req.Messages, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	writer := bufio.NewWriter(w)

	var tokens int64
	completed := false
	for tok := range ch {
		switch {
		case tok.Err != nil:
			payload, _ := json.Marshal(map[string]string{"error": tok.Err.Error()})
			fmt.Fprintf(writer, "event: error\ndata: %s\n\n", payload)
		case tok.Done:
			completed = true
			fmt.Fprintf(writer, "data: [DONE]\n\n")
		default:
			tokens += int64(len(tok.Text))
			payload, _ := json.Marshal(map[string]string{"content": tok.Text})
			fmt.Fprintf(writer, "data: %s\n\n", payload)
		}
		writer.Flush()
		flusher.Flush()
	}
	if completed {
		s.recordUsage(req.Model, tokens)
	}
}

// ─── Downloads ──────────────────────────────────────────────────────────────

type pullRequest struct {
	Name string `json:"name"` // built-in name/tag, or empty when URL given
	URL  string `json:"url,omitempty"`
	File string `json:"file,omitempty"`
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
		return
	}

	url, file, size := req.URL, req.File, int64(0)
	if req.Name != "" {
		entry := catalog.Lookup(req.Name)
		if entry == nil {
			writeError(w, fmt.Errorf("%w: %s", domain.ErrModelNotFound, req.Name))
			return
		}
		url, file, size = entry.DownloadURL(), entry.HFFile, entry.SizeBytes
	}

	id, err := s.downloads.Start(url, file, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "filename": file})
}

func (s *Server) handleDownloadProgress(w http.ResponseWriter, r *http.Request) {
	progress, ok := s.downloads.Progress(chi.URLParam(r, "filename"))
	if !ok {
		writeError(w, fmt.Errorf("%w: no download for that filename", domain.ErrModelNotFound))
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	cancelled := s.downloads.Cancel(chi.URLParam(r, "filename"))
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// ─── Cache ──────────────────────────────────────────────────────────────────

func (s *Server) handleClearContextCache(w http.ResponseWriter, r *http.Request) {
	if err := s.worker.ClearContextSizeCache(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func isZeroSettings(s domain.ModelLoadingSettings) bool {
	return s.GPULayers == nil && s.ContextSize == nil && s.BatchSize == nil &&
		s.Threads == nil && s.Temperature == nil
}

// ─── Persistence ────────────────────────────────────────────────────────────

// syncCatalog mirrors the worker's disk scan into the catalog table so the
// rows survive restarts.
func (s *Server) syncCatalog(models []domain.ModelDescriptor) {
	if s.db == nil {
		return
	}
	for _, m := range models {
		if err := s.db.UpsertModel(m); err != nil {
			log.Printf("[api] catalog upsert %s: %v", m.ID, err)
		}
	}
}

// recordUsage folds one completed prompt into the persistent counters.
func (s *Server) recordUsage(modelID string, tokens int64) {
	if s.db == nil {
		return
	}
	stats := domain.UsageStats{TotalPrompts: 1, TotalTokens: tokens, LastAccessed: time.Now()}
	if err := s.db.RecordUsage(modelID, stats); err != nil {
		log.Printf("[api] record usage %s: %v", modelID, err)
	}
}
