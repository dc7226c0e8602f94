// Command redactgw is the sensitive-content redaction gateway.
//
// It sits in front of OpenAI, Claude, and Gemini, transparently redacting
// secrets, PII, operationally sensitive identifiers, and export-controlled
// content out of outbound requests, then restoring an authorized subset of
// placeholders in the provider's reply. A JSON control plane
// (/classify, /redact, /detokenize, /route, /audit/query) exposes the same
// pipelines directly to callers that want to redact without proxying.
//
// Usage:
//
//	./redactgw
//
//	# Custom ports, Redis-backed TokenMap
//	PROXY_PORT=9090 TOKEN_BACKEND=redis REDIS_ADDR=localhost:6379 ./redactgw
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"redactgw/internal/audit"
	"redactgw/internal/config"
	"redactgw/internal/gateway"
	"redactgw/internal/logger"
	"redactgw/internal/metrics"
	"redactgw/internal/policy"
	"redactgw/internal/safety"
	"redactgw/internal/tokenstore"
)

func main() {
	cfg := config.Load()
	log := logger.New("GATEWAY", cfg.LogLevel)

	printBanner(cfg)

	store, err := newTokenStore(cfg)
	if err != nil {
		log.Fatalf("token_store_init", "%v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("token_store_close", "%v", err)
		}
	}()

	policies, err := policy.NewStore(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("policy_load", "%v", err)
	}

	auditSink, err := audit.NewFileSink(cfg.AuditLogFile, cfg.AuditTailCap)
	if err != nil {
		log.Fatalf("audit_sink_init", "%v", err)
	}
	defer func() {
		if err := auditSink.Close(); err != nil {
			log.Errorf("audit_sink_close", "%v", err)
		}
	}()

	safetyFilter, err := safety.NewFilter(os.Getenv("SAFETY_PATTERNS_FILE"))
	if err != nil {
		log.Fatalf("safety_filter_init", "%v", err)
	}

	m := metrics.New()
	m.RegisterPrometheus(prometheus.DefaultRegisterer)

	srv := gateway.New(cfg, store, policies, auditSink, m, safetyFilter)

	mux := http.NewServeMux()
	mux.Handle("/", srv.Router())
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.ProxyPort)
	log.Infof("listen", "listening on %s", addr)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutdown", "shutting down…")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Errorf("shutdown", "%v", err)
		}
	}()

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("listen", "%v", err)
	}
}

func newTokenStore(cfg *config.Config) (tokenstore.Backend, error) {
	switch cfg.TokenBackend {
	case "redis":
		return tokenstore.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.EncryptionPass)
	default:
		return tokenstore.NewMemoryBackend(cfg.MaxHandles, cfg.MemoryCacheFile)
	}
}

func printBanner(cfg *config.Config) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          Redaction Gateway                            ║
╚══════════════════════════════════════════════════════╝
  Proxy port     : %d
  Token backend  : %s
  Policy file    : %s
  Audit log      : %s
  Post-verify    : %v

  Point clients here:
    OpenAI   http://localhost:%d/v1/chat/completions
    Claude   http://localhost:%d/v1/messages
    Gemini   http://localhost:%d/v1beta/models/{model}:generateContent

  Check status:
    curl http://localhost:%d/health
`, cfg.ProxyPort, cfg.TokenBackend, cfg.PolicyFile, cfg.AuditLogFile, cfg.PostVerifyEnabled,
		cfg.ProxyPort, cfg.ProxyPort, cfg.ProxyPort, cfg.ProxyPort)
}
