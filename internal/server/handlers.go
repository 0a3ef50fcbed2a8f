package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/history"
	"github.com/atelierhq/atelier/internal/orchestrator"
	"github.com/atelierhq/atelier/internal/sandbox"
	"github.com/atelierhq/atelier/pkg/models"
)

const maxChatBody = 1 << 20

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply      string           `json:"reply"`
	StopReason string           `json:"stop_reason"`
	Iterations int              `json:"iterations"`
	Calls      int              `json:"calls"`
	Messages   []models.Message `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := models.ValidateProjectID(projectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.sandbox.ProjectDir(projectID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	replay, err := s.db.LastN(projectID, s.cfg.Orchestrator.HistoryReplay)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	seed := make([]models.Message, 0, len(replay)+2)
	seed = append(seed, models.NewSystemMessage(s.systemPrompt()))
	seed = append(seed, replay...)
	userMsg := models.NewUserMessage(req.Message)
	seed = append(seed, userMsg)

	run := &history.Run{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		StartedAt: time.Now(),
	}
	if err := s.db.CreateRun(run); err != nil {
		s.log.Warn().Err(err).Msg("record run start")
	}
	inBefore, outBefore := s.client.Tracker().Total()

	result, runErr := s.orch.Run(r.Context(), seed, projectID)

	if result != nil {
		appended := result.Messages[len(seed):]
		persist := append([]models.Message{userMsg}, appended...)
		if err := s.db.AppendMessages(projectID, persist); err != nil {
			s.log.Error().Err(err).Str("project", projectID).Msg("persist chat messages")
		}

		inAfter, outAfter := s.client.Tracker().Total()
		now := time.Now()
		run.Iterations = result.Iterations
		run.Calls = result.Calls
		run.StopReason = string(result.Reason)
		run.InputTokens = inAfter - inBefore
		run.OutputTokens = outAfter - outBefore
		run.FinishedAt = &now
		if err := s.db.FinishRun(run); err != nil {
			s.log.Warn().Err(err).Msg("record run finish")
		}
	}

	if runErr != nil {
		s.log.Error().Err(runErr).Str("project", projectID).Msg("orchestration failed")
		writeError(w, http.StatusBadGateway, runErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Reply:      models.LastAssistant(result.Messages),
		StopReason: string(result.Reason),
		Iterations: result.Iterations,
		Calls:      result.Calls,
		Messages:   result.Messages[len(seed):],
	})
}

func (s *Server) systemPrompt() string {
	return orchestrator.SystemPrompt(s.ops.Names())
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := models.ValidateProjectID(projectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	messages, err := s.db.AllMessages(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := models.ValidateProjectID(projectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.ClearMessages(projectID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := models.ValidateProjectID(projectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.db.ListRuns(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.sandbox.Root())
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, map[string]any{"projects": []string{}})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	projects := []string{}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			projects = append(projects, e.Name())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := models.ValidateProjectID(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.sandbox.ProjectDir(req.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": req.ID})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	files, err := s.sandbox.List(projectID)
	if err != nil {
		writeSandboxError(w, err)
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	name := r.PathValue("name")
	content, err := s.sandbox.Read(projectID, name)
	if err != nil {
		writeSandboxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filename": name, "content": content})
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	name := r.PathValue("name")
	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if err := s.sandbox.Write(projectID, name, string(body)); err != nil {
		writeSandboxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filename": name})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSandboxError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sandbox.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sandbox.ErrPathOutsideProject),
		errors.Is(err, sandbox.ErrExtensionDenied):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sandbox.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
