// Package server exposes the assistant over webchat HTTP/WebSocket and
// the Twilio WhatsApp webhook.
package server

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/websocket"

	"pazarglobal/internal/app"
	"pazarglobal/internal/ratelimit"
	"pazarglobal/internal/util"
	"pazarglobal/pkg/domain"
	"pazarglobal/pkg/session"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Sessions session.Cache
	Limiter  *ratelimit.FixedWindowLimiter
	// TrustedProxies qualifies X-Forwarded-For for rate-limit keys on the
	// webhook path. May be nil.
	TrustedProxies *util.TrustedProxies
	HistoryLimit   int
}

// Server exposes HTTP endpoints for the assistant.
type Server struct {
	app          *app.App
	sessions     session.Cache
	limiter      *ratelimit.FixedWindowLimiter
	proxies      *util.TrustedProxies
	historyLimit int
	mux          *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:          cfg.App,
		sessions:     cfg.Sessions,
		limiter:      cfg.Limiter,
		proxies:      cfg.TrustedProxies,
		historyLimit: cfg.HistoryLimit,
		mux:          http.NewServeMux(),
	}
	if s.historyLimit <= 0 {
		s.historyLimit = 50
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("agent", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/webchat/message", s.handleWebchatMessage)
	s.mux.HandleFunc("/webchat/session/new", s.handleSessionNew)
	s.mux.HandleFunc("/webchat/session/", s.handleSession)
	s.mux.HandleFunc("/webchat/history/", s.handleHistory)
	s.mux.Handle("/webchat/ws/", websocket.Handler(s.handleWebSocket))
	s.mux.HandleFunc("/whatsapp/webhook", s.handleWhatsApp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebchatMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req messageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	media := req.mediaList()
	if req.Message == "" && len(media) == 0 {
		writeError(w, http.StatusBadRequest, "message or media_urls is required")
		return
	}
	if !s.limiter.Allow("session:" + req.SessionID) {
		writeError(w, http.StatusTooManyRequests, "çok hızlı yazıyorsunuz, lütfen biraz bekleyin")
		return
	}

	reply := s.app.ProcessMessage(r.Context(), app.Message{
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		Channel:    "webchat",
		Text:       req.Message,
		MediaURLs:  media,
		SellerName: req.SellerName,
	})
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleSessionNew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id := util.NewID()
	rec := session.Record{SessionID: id, Channel: "webchat"}
	if err := s.sessions.Put(r.Context(), rec); err != nil {
		slog.Warn("session create persist failed", "err", err)
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/webchat/session/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		rec, found, err := s.sessions.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		if err := s.sessions.Delete(r.Context(), id); err != nil {
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/webchat/history/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	limit := s.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n < limit {
			limit = n
		}
	}
	msgs, err := s.sessions.Messages(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": msgs})
}

// handleWebSocket serves the streaming webchat: an ack frame on connect,
// then one reply frame per incoming message.
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	defer ws.Close()
	sessionID := strings.TrimPrefix(ws.Request().URL.Path, "/webchat/ws/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		_ = websocket.JSON.Send(ws, wsFrame{Type: "error", Error: "session_id is required in the path"})
		return
	}
	if err := websocket.JSON.Send(ws, wsFrame{Type: "connection", SessionID: sessionID}); err != nil {
		return
	}

	for {
		var req messageRequest
		if err := websocket.JSON.Receive(ws, &req); err != nil {
			if err != io.EOF {
				slog.Debug("websocket receive ended", "session_id", sessionID, "err", err)
			}
			return
		}
		media := req.mediaList()
		if req.Message == "" && len(media) == 0 {
			continue
		}
		if !s.limiter.Allow("session:" + sessionID) {
			_ = websocket.JSON.Send(ws, wsFrame{Type: "error", SessionID: sessionID, Error: "çok hızlı yazıyorsunuz, lütfen biraz bekleyin"})
			continue
		}
		reply := s.app.ProcessMessage(context.Background(), app.Message{
			SessionID:  sessionID,
			UserID:     req.UserID,
			Channel:    "webchat",
			Text:       req.Message,
			MediaURLs:  media,
			SellerName: req.SellerName,
		})
		if err := websocket.JSON.Send(ws, wsFrame{Type: "message", SessionID: sessionID, Reply: &reply}); err != nil {
			return
		}
	}
}

// handleWhatsApp consumes the Twilio webhook form post and answers with
// TwiML so the reply goes straight back to the sender.
func (s *Server) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		// webhook validation ping
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	case http.MethodPost:
	default:
		methodNotAllowed(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	from := r.PostFormValue("From")
	if from == "" {
		writeError(w, http.StatusBadRequest, "From is required")
		return
	}

	if !s.limiter.Allow("phone:" + from) {
		slog.Warn("whatsapp sender rate limited", "from", from, "client_ip", util.ClientIP(r, s.proxies))
		writeTwiML(w, "Çok hızlı yazıyorsunuz, lütfen biraz bekleyin. 🙏")
		return
	}

	var media []string
	if n, err := strconv.Atoi(r.PostFormValue("NumMedia")); err == nil {
		for i := 0; i < n; i++ {
			if u := r.PostFormValue(fmt.Sprintf("MediaUrl%d", i)); u != "" {
				media = append(media, u)
			}
		}
	}

	reply := s.app.ProcessMessage(r.Context(), app.Message{
		// the phone number is the session: WhatsApp has no other
		// conversation handle
		SessionID:  from,
		UserID:     from,
		Channel:    "whatsapp",
		Text:       r.PostFormValue("Body"),
		MediaURLs:  media,
		SellerName: r.PostFormValue("ProfileName"),
	})
	writeTwiML(w, reply.Message)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type messageRequest struct {
	SessionID  string   `json:"session_id"`
	UserID     string   `json:"user_id"`
	Message    string   `json:"message"`
	MediaURL   string   `json:"media_url"`
	MediaURLs  []string `json:"media_urls"`
	SellerName string   `json:"seller_name"`
}

// mediaList folds the legacy single-url field into the list form.
func (r messageRequest) mediaList() []string {
	if r.MediaURL == "" {
		return r.MediaURLs
	}
	for _, u := range r.MediaURLs {
		if u == r.MediaURL {
			return r.MediaURLs
		}
	}
	return append([]string{r.MediaURL}, r.MediaURLs...)
}

type wsFrame struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	Reply     *domain.Reply `json:"reply,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeTwiML(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(twimlResponse{Message: message})
}
