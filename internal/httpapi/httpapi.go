// Package httpapi is the non-core HTTP Surface described in spec.md §4.7:
// token issuance, full-board snapshot (raw/gzip/webp), admin ban/unban, and
// the WebSocket upgrade endpoint. Only its calls into the core
// (internal/issuer, internal/ratelimit, internal/wsproto) are normative;
// everything else here is plumbing.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/pixelhall/paintboard/internal/boardimage"
	"github.com/pixelhall/paintboard/internal/issuer"
	"github.com/pixelhall/paintboard/internal/pixelstore"
	"github.com/pixelhall/paintboard/internal/ratelimit"
)

// WSHandler upgrades a request to a WebSocket connection; satisfied by
// *wsproto.Engine.HandleUpgrade.
type WSHandler func(w http.ResponseWriter, r *http.Request)

// Server wires the HTTP surface's handlers to the core components they
// front.
type Server struct {
	Board      *pixelstore.Store
	Issuer     *issuer.Issuer
	Bans       *ratelimit.BanTable
	UidBans    *ratelimit.UidBanSet
	AdminToken string
	WS         WSHandler
	Logger     *log.Logger

	mux *http.ServeMux
}

// New builds the HTTP surface and registers every route from spec.md §6.
func New(board *pixelstore.Store, iss *issuer.Issuer, bans *ratelimit.BanTable, uidBans *ratelimit.UidBanSet, adminToken string, ws WSHandler, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		Board:      board,
		Issuer:     iss,
		Bans:       bans,
		UidBans:    uidBans,
		AdminToken: adminToken,
		WS:         ws,
		Logger:     logger,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api", s.handleRoot)
	s.mux.HandleFunc("/api/paintboard/getboard", s.handleGetBoard)
	s.mux.HandleFunc("/api/paintboard/getimage", s.handleGetImage)
	s.mux.HandleFunc(wsPath, s.WS)
	s.mux.HandleFunc("/api/auth/gettoken", s.handleGetToken)
	s.mux.HandleFunc("/api/root/banuid", s.handleBanUID)
	s.mux.HandleFunc("/api/root/unbanuid", s.handleUnbanUID)
}

// Handler returns the fully wrapped http.Handler: CORS preflight handling,
// then the IP-ban gate (skipped for the WebSocket upgrade path, which does
// its own ban handling), then the route mux.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.banMiddleware(s.mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wsPath is excluded from banMiddleware: spec.md §4.4/§6 wants a banned IP's
// WebSocket open to complete the upgrade and then close with 1008, not get a
// plain HTTP 429 before wsproto.Engine.HandleUpgrade ever sees the request.
// HandleUpgrade does its own ban check and 1008 close.
const wsPath = "/api/paintboard/ws"

func (s *Server) banMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == wsPath {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if remaining, banned := s.Bans.Check(ip); banned {
			w.Header().Set("Retry-After", strconv.Itoa(int(remaining.Seconds())+1))
			http.Error(w, "ip banned", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("paintboard"))
}

func (s *Server) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	snap := s.Board.Snapshot()
	compressed, err := boardimage.Gzip(snap)
	if err != nil {
		s.Logger.Printf("httpapi: gzip board: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")
	w.Write(compressed)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	width, height := s.Board.Dimensions()
	snap := s.Board.Snapshot()
	out, err := boardimage.EncodeLosslessWebP(snap, width, height)
	if err != nil {
		s.Logger.Printf("httpapi: encode webp: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/webp")
	w.Write(out)
}

type getTokenRequest struct {
	UID   int64  `json:"uid"`
	Paste string `json:"paste"`
}

type getTokenResponse struct {
	StatusCode int         `json:"statusCode"`
	Data       interface{} `json:"data"`
}

type tokenData struct {
	Token string `json:"token"`
}

type errorData struct {
	ErrorType issuer.ErrorType `json:"errorType"`
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req getTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, getTokenResponse{StatusCode: http.StatusBadRequest})
		return
	}

	token, err := s.Issuer.GenerateToken(r.Context(), req.UID, req.Paste)
	if err == nil {
		writeJSON(w, http.StatusOK, getTokenResponse{StatusCode: http.StatusOK, Data: tokenData{Token: token}})
		return
	}

	var issueErr *issuer.IssueError
	if errors.As(err, &issueErr) {
		writeJSON(w, http.StatusForbidden, getTokenResponse{StatusCode: http.StatusForbidden, Data: errorData{ErrorType: issueErr.Type}})
		return
	}

	s.Logger.Printf("httpapi: generate token failed: %v", err)
	writeJSON(w, http.StatusInternalServerError, getTokenResponse{StatusCode: http.StatusInternalServerError})
}

type adminRequest struct {
	Token string `json:"token"`
	UID   int64  `json:"uid"`
}

func (s *Server) handleBanUID(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, func(uid int64) { s.UidBans.Ban(uid) })
}

func (s *Server) handleUnbanUID(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, func(uid int64) { s.UidBans.Unban(uid) })
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request, apply func(uid int64)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if s.AdminToken == "" || req.Token != s.AdminToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	apply(req.UID)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
