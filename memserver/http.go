package memserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/types"
)

// Handler wraps a Server as the HTTP service block.HTTPServer talks to,
// implementing the same four routes spec.md §6 documents:
//
//	POST /blocks             {data: base64}   -> {hash: hex}
//	GET  /blocks/{hash}                        -> {data: base64}
//	GET  /vsl                                  -> VSLWire
//	POST /commit/{user}       VersionStructWire -> {}
type Handler struct {
	srv *Server
	mux *http.ServeMux
}

// NewHandler builds an http.Handler in front of srv.
func NewHandler(srv *Server) *Handler {
	h := &Handler{srv: srv, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /blocks", h.handleStore)
	h.mux.HandleFunc("GET /blocks/{hash}", h.handleRead)
	h.mux.HandleFunc("GET /vsl", h.handleGetVSL)
	h.mux.HandleFunc("POST /commit/{user}", h.handleCommit)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type storeRequest struct {
	Data []byte `json:"data"`
}

type storeResponse struct {
	Hash string `json:"hash"`
}

type readResponse struct {
	Data []byte `json:"data"`
}

func (h *Handler) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hash, err := h.srv.Store(r.Context(), req.Data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, storeResponse{Hash: hash.String()})
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	hash, err := crypto.ParseHash(r.PathValue("hash"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	blob, err := h.srv.Read(r.Context(), hash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, readResponse{Data: blob})
}

func (h *Handler) handleGetVSL(w http.ResponseWriter, r *http.Request) {
	vsl, err := h.srv.GetVSL(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, vsl.ToWire())
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	user, err := types.ParsePrincipal(strings.TrimSpace(r.PathValue("user")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var wire types.VersionStructWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	vs, err := types.FromWire(wire)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.srv.Commit(r.Context(), user, vs); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
