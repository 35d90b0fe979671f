package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/net/websocket"

	"pazarglobal/internal/app"
	"pazarglobal/internal/compose"
	"pazarglobal/internal/identity"
	"pazarglobal/internal/intent"
	"pazarglobal/internal/publish"
	"pazarglobal/internal/search"
	"pazarglobal/pkg/domain"
	"pazarglobal/pkg/keywords"
	"pazarglobal/pkg/session"
	"pazarglobal/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *session.MemoryCache) {
	t.Helper()
	st := store.NewMemoryStore()
	sessions := session.NewMemoryCache(50)
	categories := []string{"Elektronik", "Diğer"}
	a := app.New(
		sessions,
		st,
		identity.NewNormalizer("pazarglobal-test"),
		intent.NewResolver(intent.NewClassifier(nil)),
		compose.NewOrchestrator(st, nil, nil, nil, nil, nil, categories),
		publish.NewFlow(st, keywords.NewGenerator(nil), nil, 1, categories),
		search.NewAggregator(st, categories, 5),
		nil,
		nil,
	)
	return New(Config{App: a, Sessions: sessions}), sessions
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebchatMessage(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"session_id": "s1",
		"user_id":    "web-user",
		"message":    "merhaba",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webchat/message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var reply domain.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatal(err)
	}
	if !reply.Success || !strings.Contains(reply.Message, "ilan oluştur") {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestWebchatMessageSingleMediaURL(t *testing.T) {
	s, sessions := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"session_id": "s-media",
		"user_id":    "web-user",
		"media_url":  "https://cdn.example.com/a.jpg",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webchat/message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	sess, ok, err := sessions.Get(context.Background(), "s-media")
	if err != nil || !ok {
		t.Fatalf("session missing after media turn: %v", err)
	}
	if len(sess.PendingMedia) != 1 || sess.PendingMedia[0] != "https://cdn.example.com/a.jpg" {
		t.Fatalf("pending media = %v", sess.PendingMedia)
	}
}

func TestWebchatMessageValidation(t *testing.T) {
	s, _ := newTestServer(t)
	for name, body := range map[string]string{
		"bad json":   "{",
		"no session": `{"message":"hi"}`,
		"empty turn": `{"session_id":"s1"}`,
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webchat/message", strings.NewReader(body))
		s.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", name, rec.Code)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webchat/session/new", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	id := created["session_id"]
	if id == "" {
		t.Fatal("no session_id in response")
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webchat/session/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/webchat/session/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webchat/session/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rec.Code)
	}
}

func TestHistoryAfterMessage(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"session_id":"s1","user_id":"web-user","message":"merhaba"}`
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webchat/message", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("message status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webchat/history/s1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var out struct {
		Messages []session.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("messages = %d, want user + assistant", len(out.Messages))
	}
	if out.Messages[0].Role != "user" || out.Messages[1].Role != "assistant" {
		t.Fatalf("unexpected roles: %+v", out.Messages)
	}
}

func TestWhatsAppWebhookRepliesWithTwiML(t *testing.T) {
	s, _ := newTestServer(t)
	form := url.Values{}
	form.Set("From", "whatsapp:+905551112233")
	form.Set("Body", "merhaba")
	form.Set("NumMedia", "0")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("content type = %q", ct)
	}
	respBody := rec.Body.String()
	if !strings.Contains(respBody, "<Response>") || !strings.Contains(respBody, "<Message>") {
		t.Fatalf("not TwiML: %s", respBody)
	}
}

func TestWhatsAppWebhookForwardsMedia(t *testing.T) {
	s, sessions := newTestServer(t)
	form := url.Values{}
	form.Set("From", "whatsapp:+905551112233")
	form.Set("ProfileName", "Ayşe")
	form.Set("NumMedia", "1")
	form.Set("MediaUrl0", "https://api.twilio.com/media/abc")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	sess, found, err := sessions.Get(req.Context(), "whatsapp:+905551112233")
	if err != nil || !found {
		t.Fatalf("session not stored: %v", err)
	}
	if len(sess.PendingMedia) != 1 || sess.PendingMedia[0] != "https://api.twilio.com/media/abc" {
		t.Fatalf("media not buffered: %+v", sess.PendingMedia)
	}
	if sess.SellerName != "Ayşe" {
		t.Fatalf("seller name = %q, want the WhatsApp profile name", sess.SellerName)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/webchat/ws/s1"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var ack wsFrame
	if err := websocket.JSON.Receive(conn, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != "connection" || ack.SessionID != "s1" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	if err := websocket.JSON.Send(conn, messageRequest{UserID: "web-user", Message: "merhaba"}); err != nil {
		t.Fatal(err)
	}
	var frame wsFrame
	if err := websocket.JSON.Receive(conn, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "message" || frame.Reply == nil || !frame.Reply.Success {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}
