package server

import (
	"net/http"
	"time"

	"roomsync/internal/connection"
)

type joinRequest struct {
	Code string `json:"code"`
}

type controllerRequest struct {
	UserID string `json:"userId"`
}

type listRequest struct {
	ListID string `json:"listId"`
}

// handleHealth reports liveness plus the remote session status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := s.session.RoomInfo()
	status := "ok"
	if info.ConnectionStatus == connection.StatusError {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"connection": info.ConnectionStatus,
		"inRoom":     info.IsInRoom,
	})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.RoomInfo())
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	roomID, code, err := s.session.ConnectAndCreateRoom(r.Context())
	if err != nil {
		s.respondWithSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"roomId": roomID, "roomCode": code})
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if verr := decodeBody(r, &req); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	code, verr := validateRoomCode(req.Code)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	roomID, err := s.session.ConnectAndJoinRoom(r.Context(), code)
	if err != nil {
		s.respondWithSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"roomId": roomID, "roomCode": code})
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Disconnect(r.Context()); err != nil {
		s.respondWithSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.RoomInfo())
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	if !s.session.RoomInfo().IsInRoom {
		s.respondWithError(w, r, http.StatusConflict, "NOT_IN_ROOM", "Not in a room", nil)
		return
	}
	participants, err := s.session.Participants(r.Context())
	if err != nil {
		s.respondWithSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": participants})
}

func (s *Server) handleGetController(w http.ResponseWriter, r *http.Request) {
	controllerID, err := s.session.ControllerID(r.Context())
	if err != nil {
		s.respondWithSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"controllerId": controllerID,
		"userId":       s.session.UserID(),
		"isController": controllerID != "" && controllerID == s.session.UserID(),
	})
}

func (s *Server) handleSetController(w http.ResponseWriter, r *http.Request) {
	var req controllerRequest
	if verr := decodeBody(r, &req); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	userID, verr := validateUserID(req.UserID)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if err := s.session.SetController(r.Context(), userID); err != nil {
		s.respondWithSyncError(w, r, err)
		return
	}
	s.handleGetController(w, r)
}

func (s *Server) handleSyncState(w http.ResponseWriter, r *http.Request) {
	if err := s.session.SyncCurrentState(r.Context()); err != nil {
		s.respondWithSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSyncPlaylist(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if verr := decodeBody(r, &req); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	listID, verr := validateListID(req.ListID, true)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if err := s.session.SyncPlaylist(r.Context(), listID); err != nil {
		s.respondWithSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "listId": listID})
}

// handleWatchPlaylist selects the broadcast list; an empty id stops watching
func (s *Server) handleWatchPlaylist(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if verr := decodeBody(r, &req); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	listID, verr := validateListID(req.ListID, false)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	s.session.SetWatchingListID(listID)
	writeJSON(w, http.StatusOK, map[string]string{"watchingListId": s.session.WatchingListID()})
}
