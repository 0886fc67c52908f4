package server

import (
	"net/http"
)

type playRequest struct {
	ListID string `json:"listId"`
	Index  int    `json:"index"`
}

func (s *Server) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.player.GetState())
}

// handlePlay starts a track of a local list. On the controller the change
// reaches the room through the event bridge.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if verr := decodeBody(r, &req); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	listID, verr := validateListID(req.ListID, true)
	if verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	if req.Index < 0 {
		s.respondWithValidationError(w, r, []ValidationError{{
			Field:   "index",
			Message: "Index must not be negative",
			Code:    "INVALID_INDEX",
		}})
		return
	}

	if err := s.player.PlayList(listID, req.Index); err != nil {
		s.respondWithError(w, r, http.StatusNotFound, "TRACK_NOT_FOUND", err.Error(), err)
		return
	}
	writeJSON(w, http.StatusOK, s.player.GetState())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.player.SetPlaying(false)
	writeJSON(w, http.StatusOK, s.player.GetState())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.player.GetState().Track == nil {
		s.respondWithError(w, r, http.StatusConflict, "NOTHING_PLAYING", "No track loaded", nil)
		return
	}
	s.player.SetPlaying(true)
	writeJSON(w, http.StatusOK, s.player.GetState())
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if err := s.player.Next(); err != nil {
		s.respondWithError(w, r, http.StatusConflict, "NOTHING_PLAYING", err.Error(), err)
		return
	}
	writeJSON(w, http.StatusOK, s.player.GetState())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.player.ClearTrack()
	writeJSON(w, http.StatusOK, s.player.GetState())
}
