package api

import (
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/coldforge/renderfarm/internal/auth"
)

const maxUploadBytes = 1 << 30 // 1 GiB scene file ceiling.

type taskResponse struct {
	TaskID          string `json:"task_id"`
	TaskName        string `json:"task_name"`
	ParentSessionID string `json:"parent_session_id"`
	Username        string `json:"username"`
	BlendFilePath   string `json:"blend_file_path"`
	State           string `json:"state"`
	Progress        string `json:"progress"`
}

func toTaskResponse(v auth.TaskView) taskResponse {
	return taskResponse{
		TaskID:          v.TaskID,
		TaskName:        v.TaskName,
		ParentSessionID: v.ParentSessionID,
		Username:        v.Username,
		BlendFilePath:   v.BlendFilePath,
		State:           string(v.State),
		Progress:        v.Progress,
	}
}

// handleTaskRequest: POST /task/request, multipart form with session_id,
// task_name, start_frame, end_frame, and file field "file" ->
// {"task_id": "<hex>"}.
func (s *Server) handleTaskRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, ErrBadRequest)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, ErrBadRequest)
		return
	}

	sessionID := r.FormValue("session_id")
	taskName := r.FormValue("task_name")
	startFrame, errStart := strconv.Atoi(r.FormValue("start_frame"))
	endFrame, errEnd := strconv.Atoi(r.FormValue("end_frame"))
	if errStart != nil || errEnd != nil {
		writeError(w, ErrNonDigitFrames)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, ErrBadRequest)
		return
	}
	defer file.Close()
	blendBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(w, ErrBadRequest)
		return
	}

	taskID, err := s.mgr.AddTask(r.Context(), sessionID, taskName, startFrame, endFrame, blendBytes)
	if err != nil {
		writeError(w, mapAuthError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID})
}

// handleTaskStat: GET /task/stat?session_id=&task_id= -> task row + progress.
func (s *Server) handleTaskStat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, ErrBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	taskID := r.URL.Query().Get("task_id")

	view, err := s.mgr.StatTask(r.Context(), sessionID, taskID)
	if err != nil {
		writeError(w, mapAuthError(err))
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(view))
}

// handleTaskList: GET /task/list?session_id= -> [{task row + progress}, ...].
func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, ErrBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session_id")

	views, err := s.mgr.ListTasks(r.Context(), sessionID)
	if err != nil {
		writeError(w, mapAuthError(err))
		return
	}
	out := make([]taskResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toTaskResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTaskKill: GET /task/kill?session_id=&task_id= -> {"task_id": "<hex>"}.
func (s *Server) handleTaskKill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, ErrBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	taskID := r.URL.Query().Get("task_id")

	if err := s.mgr.KillTask(r.Context(), sessionID, taskID); err != nil {
		writeError(w, mapAuthError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID})
}

// handleTaskDelete: GET /task/delete?session_id=&task_id= -> {"task_id": "<hex>"}.
func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, ErrBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	taskID := r.URL.Query().Get("task_id")

	if err := s.mgr.DeleteTask(r.Context(), sessionID, taskID); err != nil {
		writeError(w, mapAuthError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID})
}

// handleTaskResult: GET /task/result?session_id=&task_id= -> raw tar.gz
// bytes; side effect: task transitions to DONE once the bytes are written.
func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, ErrBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	taskID := r.URL.Query().Get("task_id")

	tarPath, err := s.mgr.PreparePackagedResult(r.Context(), sessionID, taskID)
	if err != nil {
		writeError(w, mapAuthError(err))
		return
	}

	f, err := os.Open(tarPath)
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/gzip")
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Error("writing result bytes failed", "task_id", taskID, "error", err)
		return
	}
	s.mgr.FinalizeResult(taskID)
}
