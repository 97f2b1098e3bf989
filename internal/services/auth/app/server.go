package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/keyfold.space/internal/services/auth/api/httpapi"
	"github.com/louisbranch/keyfold.space/internal/services/auth/passkey"
	"github.com/louisbranch/keyfold.space/internal/services/auth/password"
	"github.com/louisbranch/keyfold.space/internal/services/auth/storage/sqlite"
	"github.com/louisbranch/keyfold.space/internal/services/auth/token"
)

const cleanupInterval = 5 * time.Minute

// Server hosts the auth service.
type Server struct {
	grpcListener net.Listener
	grpcServer   *grpc.Server
	health       *health.Server
	store        *sqlite.Store
	httpListener net.Listener
	httpServer   *http.Server
}

// New creates a configured auth server listening on the provided addresses.
func New(grpcPort int, httpAddr string) (*Server, error) {
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", grpcPort, err)
	}
	store, err := openAuthStore(os.Getenv("KEYFOLD_SPACE_AUTH_DB_PATH"))
	if err != nil {
		_ = grpcListener.Close()
		return nil, err
	}

	passkeyConfig := passkey.LoadConfigFromEnv()
	verifier := passkey.NewWebAuthnVerifier(passkeyConfig)
	ceremonies := passkey.NewCeremonies(store, verifier, passkeyConfig)
	lifecycle := passkey.NewLifecycle(store)
	passwords := password.NewManager(store, password.LoadConfigFromEnv())
	tokens, err := token.NewIssuer(store, token.LoadConfigFromEnv())
	if err != nil {
		_ = grpcListener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("configure token issuer: %w", err)
	}

	httpListener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		_ = grpcListener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen on http addr %s: %w", httpAddr, err)
	}
	mux := http.NewServeMux()
	httpapi.NewServer(ceremonies, lifecycle, passwords, tokens, store).RegisterRoutes(mux)
	httpServer := &http.Server{Handler: mux}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		grpcListener: grpcListener,
		grpcServer:   grpcServer,
		health:       healthServer,
		store:        store,
		httpListener: httpListener,
		httpServer:   httpServer,
	}, nil
}

// Addr returns the gRPC listener address.
func (s *Server) Addr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// HTTPAddr returns the HTTP listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, grpcPort int, httpAddr string) error {
	authServer, err := New(grpcPort, httpAddr)
	if err != nil {
		return err
	}
	return authServer.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.startCleanup(serverCtx, cleanupInterval)

	log.Printf("auth server listening at %v", s.grpcListener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.grpcListener)
	}()

	log.Printf("auth HTTP server listening at %v", s.httpListener.Addr())
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- s.httpServer.Serve(s.httpListener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}

	shutdownGRPC := func() {
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
	}
	shutdownHTTP := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		shutdownGRPC()
		shutdownHTTP()
		err := <-serveErr
		return handleErr(err)
	case err := <-serveErr:
		shutdownHTTP()
		return handleErr(err)
	case err := <-httpErr:
		if err == http.ErrServerClosed {
			return nil
		}
		shutdownGRPC()
		grpcErr := <-serveErr
		if handled := handleErr(grpcErr); handled != nil {
			return handled
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// startCleanup deletes expired flows and tokens on an interval until the
// context ends. Expiry is still detected lazily at use; this only bounds
// table growth.
func (s *Server) startCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || s.store == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runCleanup(ctx)
			}
		}
	}()
}

func (s *Server) runCleanup(ctx context.Context) {
	now := time.Now().UTC()
	flows, err := s.store.DeleteExpiredFlows(ctx, now)
	if err != nil {
		log.Printf("cleanup expired flows: %v", err)
	}
	resets, err := s.store.DeleteExpiredResetTokens(ctx, now)
	if err != nil {
		log.Printf("cleanup expired reset tokens: %v", err)
	}
	refreshes, err := s.store.DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		log.Printf("cleanup expired refresh tokens: %v", err)
	}
	if flows+resets+refreshes > 0 {
		log.Printf("cleanup removed %d flows, %d reset tokens, %d refresh tokens", flows, resets, refreshes)
	}
}

func openAuthStore(path string) (*sqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close auth store: %v", err)
		}
	}
}
