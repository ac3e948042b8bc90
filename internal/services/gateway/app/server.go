// Package server wires the gateway runtime: channel lifecycle over
// WebSocket, provider webhook ingestion, and best-effort fan-out.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/frontdeskhq/frontdesk/internal/platform/timeouts"
	"github.com/frontdeskhq/frontdesk/internal/services/gateway/storage"
	gatewaysqlite "github.com/frontdeskhq/frontdesk/internal/services/gateway/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/net/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const maxWebhookBodyBytes = 64 * 1024

// Config defines the inputs for the gateway boundary.
type Config struct {
	HTTPAddr                string
	GRPCAddr                string
	DBPath                  string
	AccountsBaseURL         string
	AccountsResourceSecret  string
	BroadcastSecret         string
	Verifier                TokenVerifier
	StaleChannelTTL         time.Duration
	StaleSweepInterval      time.Duration
	PushAttemptTimeout      time.Duration
	ReadHeaderTimeout       time.Duration
	ShutdownTimeout         time.Duration
}

// Server hosts the gateway HTTP/WebSocket process and its gRPC health probe.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	grpcListener    net.Listener
	grpcServer      *grpc.Server
	health          *health.Server
	store           *gatewaysqlite.Store
	ingestor        *Ingestor
	janitor         *janitor
}

type handlers struct {
	verifier        TokenVerifier
	store           storage.ChannelStore
	peers           *peerTable
	ingestor        *Ingestor
	broadcastSecret string
	wsHandler       http.Handler
}

func newHandler(verifier TokenVerifier, store storage.ChannelStore, peers *peerTable, ingestor *Ingestor, broadcastSecret string) http.Handler {
	h := &handlers{
		verifier:        verifier,
		store:           store,
		peers:           peers,
		ingestor:        ingestor,
		broadcastSecret: broadcastSecret,
	}
	h.wsHandler = websocket.Handler(h.handleChannelConn)

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ws", h.handleChannelOpen)
	mux.HandleFunc("/webhooks/voice", h.handleVoiceWebhook)
	mux.HandleFunc("/webhooks/messages", h.handleMessageWebhook)
	mux.HandleFunc("/internal/broadcast", h.handleBroadcast)
	return mux
}

// handleVoiceWebhook ingests provider call events. The provider always gets
// a success response within the request, whatever the internal outcome;
// anything else triggers redelivery storms.
func (h *handlers) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, h.ingestor.IngestCall)
}

// handleMessageWebhook ingests provider chat messages.
func (h *handlers) handleMessageWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, h.ingestor.IngestChat)
}

func (h *handlers) handleWebhook(w http.ResponseWriter, r *http.Request, ingest func(context.Context, []byte)) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Printf("gateway: read webhook body: %v", err)
	} else if h.ingestor != nil {
		ingest(r.Context(), body)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleBroadcast pushes an operator announcement to every open channel.
// Not a provider surface, so it authenticates and reports real errors.
func (h *handlers) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.broadcastSecret == "" {
		http.Error(w, "broadcast is not configured", http.StatusServiceUnavailable)
		return
	}
	provided := r.Header.Get("X-Broadcast-Secret")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.broadcastSecret)) != 1 {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	h.ingestor.Announce(r.Context(), body)

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("OK"))
}

// NewServer builds a configured gateway server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.PushAttemptTimeout <= 0 {
		config.PushAttemptTimeout = timeouts.PushAttempt
	}

	store, err := openChannelStore(config.DBPath)
	if err != nil {
		return nil, err
	}

	directory, err := NewAccountDirectory(config.AccountsBaseURL, config.AccountsResourceSecret)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init account directory: %w", err)
	}

	peers := newPeerTable()
	dispatcher := NewDispatcher(store, peers, config.PushAttemptTimeout)
	ingestor := NewIngestor(directory, dispatcher)

	server := &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		store:           store,
		ingestor:        ingestor,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           newHandler(config.Verifier, store, peers, ingestor, strings.TrimSpace(config.BroadcastSecret)),
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
	}

	if config.StaleChannelTTL > 0 && config.StaleSweepInterval > 0 {
		server.janitor = newJanitor(store, config.StaleChannelTTL, config.StaleSweepInterval)
	}

	if grpcAddr := strings.TrimSpace(config.GRPCAddr); grpcAddr != "" {
		listener, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("listen on %s: %w", grpcAddr, err)
		}
		grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		server.grpcListener = listener
		server.grpcServer = grpcServer
		server.health = healthServer
	}

	return server, nil
}

// Run creates and serves a gateway server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init gateway server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve gateway: %w", err)
	}
	return nil
}

// GRPCAddr returns the health listener address, if one is configured.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// ListenAndServe runs the HTTP server, health listener, and stale-channel
// sweep until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("gateway server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if s.grpcServer != nil {
		go func() {
			if err := s.grpcServer.Serve(s.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Printf("gateway: serve health gRPC: %v", err)
			}
		}()
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	if s.janitor != nil {
		go s.janitor.run(janitorCtx)
	}

	serveErr := make(chan error, 1)
	log.Printf("gateway server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.ingestor != nil {
		s.ingestor.drain()
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close channel store: %v", err)
		}
	}
}

func openChannelStore(path string) (*gatewaysqlite.Store, error) {
	if strings.TrimSpace(path) == "" {
		path = filepath.Join("data", "gateway.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := gatewaysqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open channel sqlite store: %w", err)
	}
	return store, nil
}
