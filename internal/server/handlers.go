package server

import (
	"encoding/json"
	"net/http"

	"github.com/roach88/replyplace/internal/canvas"
	"github.com/roach88/replyplace/internal/ir"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type healthResponse struct {
	Status     string `json:"status"`
	Commands   int    `json:"commands"`
	Backfilled bool   `json:"backfilled"`
	Live       bool   `json:"live"`
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	cmds, err := s.src.Snapshot(r.Context())
	if err != nil {
		s.unavailable(w, r, "snapshot", err)
		return
	}
	if cmds == nil {
		cmds = []ir.Command{}
	}
	writeJSON(w, http.StatusOK, cmds)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	cmds, err := s.src.Snapshot(r.Context())
	if err != nil {
		s.unavailable(w, r, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, canvas.Reduce(cmds, s.canvas))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.src.Len(r.Context())
	if err != nil {
		s.unavailable(w, r, "len", err)
		return
	}
	resp := healthResponse{Status: "ok", Commands: n}
	if s.backfilled != nil {
		resp.Backfilled = s.backfilled()
	}
	if s.live != nil {
		resp.Live = s.live()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) unavailable(w http.ResponseWriter, r *http.Request, op string, err error) {
	id := RequestID(r.Context())
	s.logger.Error("read failed", "op", op, "path", r.URL.Path, "request_id", id, "error", err)
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "command log unavailable", RequestID: id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
