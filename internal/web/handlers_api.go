package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"espnow-lamp/internal/espnow"
	"espnow-lamp/internal/node"
	"espnow-lamp/internal/store"
)

const (
	maxBodyBytes = 1 << 20
	apiSource    = "web"
)

func (s *Server) handleAPIState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.lamp.State())
}

type gestureRequest struct {
	Gesture string `json:"gesture"`
}

// handleAPIGesture injects a gesture as if it came from the button.
func (s *Server) handleAPIGesture(w http.ResponseWriter, r *http.Request) {
	var req gestureRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := node.ParseGestureKind(req.Gesture)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.lamp.HandleGesture(node.Gesture{Kind: kind, Source: apiSource})
	s.writeJSON(w, http.StatusOK, s.lamp.State())
}

type setLevelRequest struct {
	Level *int `json:"level"`
}

func (s *Server) handleAPISetLevel(w http.ResponseWriter, r *http.Request) {
	var req setLevelRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Level == nil {
		s.writeError(w, http.StatusBadRequest, "level is required")
		return
	}

	s.lamp.SetLevel(*req.Level, apiSource)
	s.writeJSON(w, http.StatusOK, s.lamp.State())
}

func (s *Server) listPeers() ([]*store.Peer, error) {
	if s.peers == nil {
		return []*store.Peer{}, nil
	}
	return s.peers.ListPeers()
}

func (s *Server) handleAPIListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.listPeers()
	if err != nil {
		s.logger.Error("list peers", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, peers)
}

// handleAPIDeletePeer forgets a peer record. The radio's bind list is not
// touched; the peer unbinds itself.
func (s *Server) handleAPIDeletePeer(w http.ResponseWriter, r *http.Request) {
	mac, err := espnow.ParseMAC(r.PathValue("mac"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if s.peers == nil {
		s.writeError(w, http.StatusNotFound, "peer not found")
		return
	}
	if _, err := s.peers.GetPeer(mac.String()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "peer not found")
			return
		}
		s.logger.Error("get peer", "mac", mac, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := s.peers.DeletePeer(mac.String()); err != nil {
		s.logger.Error("delete peer", "mac", mac, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// writeError replies with {"error": msg}.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
