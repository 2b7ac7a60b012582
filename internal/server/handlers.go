package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/execd/internal/artifact"
	"github.com/michaelbrown/execd/internal/execution"
	"github.com/michaelbrown/execd/internal/sandbox"
	"github.com/michaelbrown/execd/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Wire types ---

type executeRequest struct {
	Code      *string             `json:"code"`
	Files     []sandbox.FileInput `json:"files"`
	TimeoutMs *int                `json:"timeoutMs"`
}

type executableCode struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type codeExecutionResult struct {
	Outcome  sandbox.Outcome     `json:"outcome"`
	ExitCode int                 `json:"exitCode"`
	Stdout   string              `json:"stdout"`
	Stderr   string              `json:"stderr"`
	Images   []artifact.Artifact `json:"images"`
}

// ExecuteResponse is the body returned by POST /execute.
type ExecuteResponse struct {
	ExecutableCode      executableCode      `json:"executableCode"`
	CodeExecutionResult codeExecutionResult `json:"codeExecutionResult"`
}

// NewExecuteResponse converts a result into its wire form.
func NewExecuteResponse(res *execution.Result) ExecuteResponse {
	images := res.Artifacts
	if images == nil {
		images = []artifact.Artifact{}
	}
	return ExecuteResponse{
		ExecutableCode: executableCode{Language: res.Language, Code: res.Code},
		CodeExecutionResult: codeExecutionResult{
			Outcome:  res.Outcome,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			Images:   images,
		},
	}
}

// --- Status handlers ---

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": ServiceName})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// --- Execution handlers ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Code == nil {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	res := s.exec.Execute(r.Context(), execution.Request{
		Code:      *req.Code,
		Files:     req.Files,
		TimeoutMs: req.TimeoutMs,
	})
	writeJSON(w, http.StatusOK, NewExecuteResponse(res))
}

// --- Artifact handlers ---

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	blob, err := s.blobs.Get(r.Context(), id)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
		} else {
			s.logger.ErrorContext(r.Context(), "loading artifact failed", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "loading artifact failed")
		}
		return
	}

	w.Header().Set("Content-Type", blob.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(blob.Data)
}
