package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newHandlerFixture(t *testing.T) (*httptest.Server, *fakeChannelStore, *fakeTransport, *Ingestor) {
	t.Helper()

	store := newFakeChannelStore()
	transport := newFakeTransport()
	directory := &fakeDirectory{owners: map[string]string{"+15550001111": "acc_1"}}
	ingestor := NewIngestor(directory, NewDispatcher(store, transport, time.Second))
	verifier := &fakeVerifier{accounts: map[string]string{}}

	server := httptest.NewServer(newHandler(verifier, store, newPeerTable(), ingestor, "hush"))
	t.Cleanup(server.Close)
	return server, store, transport, ingestor
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	server, _, _, _ := newHandlerFixture(t)

	resp, err := http.Get(server.URL + "/up")
	if err != nil {
		t.Fatalf("GET /up: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestWebhooksAlwaysAcknowledge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		body string
	}{
		{
			name: "valid call event",
			path: "/webhooks/voice",
			body: `{"event":"call.ringing","call_id":"c_1","to":"+15550001111"}`,
		},
		{
			name: "malformed call event",
			path: "/webhooks/voice",
			body: `{"event":`,
		},
		{
			name: "call event for unknown number",
			path: "/webhooks/voice",
			body: `{"event":"call.ringing","call_id":"c_1","to":"+15557776666"}`,
		},
		{
			name: "valid chat message",
			path: "/webhooks/messages",
			body: `{"object":"message","message_id":"m_1","business_number":"+15550001111","text":"hi"}`,
		},
		{
			name: "malformed chat message",
			path: "/webhooks/messages",
			body: `not json`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			server, _, _, ingestor := newHandlerFixture(t)

			resp, err := http.Post(server.URL+test.path, "application/json", strings.NewReader(test.body))
			if err != nil {
				t.Fatalf("POST %s: %v", test.path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d, want %d regardless of processing outcome", resp.StatusCode, http.StatusOK)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("read response: %v", err)
			}
			if string(body) != "OK" {
				t.Errorf("body = %q, want OK", body)
			}
			ingestor.drain()
		})
	}
}

func TestWebhookRejectsNonPost(t *testing.T) {
	t.Parallel()

	server, _, _, _ := newHandlerFixture(t)

	resp, err := http.Get(server.URL + "/webhooks/voice")
	if err != nil {
		t.Fatalf("GET /webhooks/voice: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestWebhookTriggersDelivery(t *testing.T) {
	t.Parallel()

	server, store, transport, ingestor := newHandlerFixture(t)
	if err := store.Register(t.Context(), "ch_1", "acc_1", time.Now().UTC()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	body := `{"event":"call.ringing","call_id":"c_1","to":"+15550001111"}`
	resp, err := http.Post(server.URL+"/webhooks/voice", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /webhooks/voice: %v", err)
	}
	resp.Body.Close()
	ingestor.drain()

	if frames := transport.framesFor("ch_1"); len(frames) != 1 {
		t.Errorf("channel got %d frames, want 1", len(frames))
	}
}

func TestBroadcastRequiresSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		secret     string
		wantStatus int
	}{
		{name: "missing secret", secret: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", secret: "nope", wantStatus: http.StatusUnauthorized},
		{name: "correct secret", secret: "hush", wantStatus: http.StatusAccepted},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			server, _, _, ingestor := newHandlerFixture(t)

			req, err := http.NewRequest(http.MethodPost, server.URL+"/internal/broadcast", strings.NewReader(`{"text":"hello"}`))
			if err != nil {
				t.Fatalf("build request: %v", err)
			}
			if test.secret != "" {
				req.Header.Set("X-Broadcast-Secret", test.secret)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("POST /internal/broadcast: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != test.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, test.wantStatus)
			}
			ingestor.drain()
		})
	}
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{}

	tests := []struct {
		name   string
		config Config
	}{
		{
			name:   "missing http addr",
			config: Config{Verifier: verifier},
		},
		{
			name:   "missing verifier",
			config: Config{HTTPAddr: "127.0.0.1:0"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewServer(test.config); err == nil {
				t.Error("NewServer() err = nil, want error")
			}
		})
	}
}
