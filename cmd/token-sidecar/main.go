package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/token-sidecar/pkg/api"
	"github.com/Mindburn-Labs/token-sidecar/pkg/client"
	"github.com/Mindburn-Labs/token-sidecar/pkg/config"
	"github.com/Mindburn-Labs/token-sidecar/pkg/extension"
	"github.com/Mindburn-Labs/token-sidecar/pkg/faults"
	"github.com/Mindburn-Labs/token-sidecar/pkg/limiter"
	"github.com/Mindburn-Labs/token-sidecar/pkg/observability"
	"github.com/Mindburn-Labs/token-sidecar/pkg/runtimeenv"
	"github.com/Mindburn-Labs/token-sidecar/pkg/secrets"
	"github.com/Mindburn-Labs/token-sidecar/pkg/token"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = clean shutdown
//	1 = fatal startup error (missing runtime API, failed registration, bind failure)
//	2 = usage or configuration error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServeCmd(stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServeCmd(stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "token-sidecar %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: token-sidecar <command> [flags]")
	_, _ = fmt.Fprintln(w, "\nCommands:")
	_, _ = fmt.Fprintln(w, "  serve      Register with the Extensions API and serve tokens (default)")
	_, _ = fmt.Fprintln(w, "  health     Request a token from a running sidecar")
	_, _ = fmt.Fprintln(w, "  version    Show version information")
	_, _ = fmt.Fprintln(w, "  help       Show this help")
}

func runServeCmd(stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "token-sidecar: fatal: bind %s: %v\n", cfg.ListenAddr, err)
		return 1
	}

	if err := serve(ctx, cfg, ln, runtimeenv.FromEnv(), logger); err != nil {
		_, _ = fmt.Fprintf(stderr, "token-sidecar: fatal: %v\n", err)
		return 1
	}
	return 0
}

// serve runs the HTTP listener and the lifecycle loop side by side until ctx
// is cancelled or one of them fails fatally. It owns ln, and both goroutines
// have exited by the time it returns.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener, origin extension.OriginSource, logger *slog.Logger) error {
	telemetry, err := observability.New(ctx, cfg.Observability())
	if err != nil {
		_ = ln.Close()
		return faults.New(faults.Startup, "init observability", err)
	}

	secretCfg := cfg.Secrets()
	src, err := secrets.NewSource(ctx, secretCfg)
	if err != nil {
		_ = ln.Close()
		return faults.New(faults.Startup, "init secret source", err)
	}
	if secretCfg.Insecure() {
		logger.WarnContext(ctx, "signing with the built-in demo secret; set JWT_SECRET or SECRET_SOURCE for real use")
	}

	store, closeStore := newLimiterStore(cfg, logger)
	defer closeStore()

	issuer := token.NewIssuer(src)
	issuer.ExpiresAt = cfg.TokenExpiry()

	srv := &http.Server{
		Handler: api.NewRouter(issuer, api.Options{
			Subject:     cfg.TokenSubject,
			Limiter:     store,
			LimitPolicy: cfg.LimitPolicy(),
			Telemetry:   telemetry,
			Logger:      logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.InfoContext(ctx, "token endpoint listening", "addr", ln.Addr().String(), "path", api.TokenPath)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- faults.New(faults.Startup, "serve http", err)
		}
	}()

	lifecycle := extension.NewClient(cfg.ExtensionName, origin, &extension.Identity{},
		extension.WithTelemetry(telemetry),
		extension.WithLogger(logger),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lifecycle.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	var fatal error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case fatal = <-errCh:
		logger.Error("fatal error", "error", fatal, "kind", faults.KindOf(fatal).String())
	}

	// Stops the poll loop; an in-flight next-event call is aborted.
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	wg.Wait()
	_ = telemetry.Shutdown(shutdownCtx)

	return fatal
}

// newLimiterStore picks Redis when configured, an in-process store when only
// a policy is set, and nothing when limiting is off.
func newLimiterStore(cfg *config.Config, logger *slog.Logger) (limiter.Store, func()) {
	if !cfg.LimitPolicy().Enabled() {
		return nil, func() {}
	}
	if cfg.RedisAddr != "" {
		rs := limiter.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		logger.Info("rate limiting via redis", "addr", cfg.RedisAddr, "rpm", cfg.RateLimitRPM)
		return rs, func() { _ = rs.Close() }
	}
	logger.Info("rate limiting in memory", "rpm", cfg.RateLimitRPM)
	return limiter.NewMemoryStore(), func() {}
}

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		addr    string
		timeout time.Duration
	)
	cmd.StringVar(&addr, "addr", config.Defaults().ListenAddr, "Address of the running sidecar")
	cmd.DurationVar(&timeout, "timeout", 3*time.Second, "Request timeout")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.New(addr, client.WithTimeout(timeout)).Token(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	if resp.ExpiresAt <= time.Now().Unix() {
		_, _ = fmt.Fprintf(stderr, "Health check failed: token already expired at %d\n", resp.ExpiresAt)
		return 1
	}

	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}
