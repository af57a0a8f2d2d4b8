// Package api is the HTTP surface over the relay core: submission,
// status polling, configuration and metrics introspection. The core
// never sees HTTP concerns; this package only decodes, delegates, and
// maps taxonomy codes onto status codes.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"xcmlite/internal/node"
	"xcmlite/internal/proto"
	"xcmlite/internal/xcmerr"
)

type Server struct {
	node   *node.Node
	logger *slog.Logger
}

func NewServer(n *node.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{node: n, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/submit", s.handleSubmit)
	r.Get("/status/{id}", s.handleStatus)
	r.Get("/config", s.handleConfig)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/queries", s.handleOpenQuery)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

type submitResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var env proto.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, xcmerr.Newf(xcmerr.InvalidPayload, "malformed message body: %v", err))
		return
	}
	id, err := s.node.Router.Submit(env)
	if err != nil {
		s.logger.Info("submission rejected", "msg_id", env.MessageID, "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Status: "Accepted", MessageID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.node.Router.Status(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "NotFound", Message: "message not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// configView redacts key material; only public identity leaves the
// process.
type configView struct {
	Server struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"server"`
	Parachains struct {
		IDs        []uint32          `json:"ids"`
		Versions   []uint32          `json:"versions"`
		PublicKeys map[uint32]string `json:"publicKeys"`
	} `json:"parachains"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	var view configView
	cfg := s.node.Config
	view.Server.Host = cfg.Server.Host
	view.Server.Port = cfg.Server.Port
	view.Parachains.IDs = s.node.Store.ParaIDs()
	view.Parachains.Versions = cfg.Parachains.Versions
	view.Parachains.PublicKeys = make(map[uint32]string, len(view.Parachains.IDs))
	for _, id := range view.Parachains.IDs {
		if kp, ok := s.node.Keys.Get(id); ok {
			view.Parachains.PublicKeys[id] = kp.PublicHex()
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Metrics.Snapshot())
}

type openQueryRequest struct {
	ParaID  uint32 `json:"paraId"`
	QueryID string `json:"queryId"`
}

func (s *Server) handleOpenQuery(w http.ResponseWriter, r *http.Request) {
	var req openQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xcmerr.Newf(xcmerr.InvalidPayload, "malformed query body: %v", err))
		return
	}
	if req.QueryID == "" {
		writeError(w, xcmerr.New(xcmerr.InvalidPayload, "queryId is required"))
		return
	}
	if !s.node.Store.Has(req.ParaID) {
		writeError(w, xcmerr.Newf(xcmerr.UnknownParachain, "parachain %d is not registered", req.ParaID))
		return
	}
	if err := s.node.Store.OpenQuery(req.ParaID, req.QueryID); err != nil {
		writeError(w, xcmerr.Newf(xcmerr.InvalidPayload, "%v", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "Opened", "queryId": req.QueryID})
}

func statusFor(code xcmerr.Code) int {
	switch code {
	case xcmerr.InvalidSignature:
		return http.StatusUnauthorized
	case xcmerr.VersionMismatch:
		return http.StatusConflict
	case xcmerr.InvalidPayload, xcmerr.UnknownParachain:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, ok := xcmerr.CodeOf(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "Internal", Message: "internal error"})
		return
	}
	writeJSON(w, statusFor(code), errorResponse{Code: string(code), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
