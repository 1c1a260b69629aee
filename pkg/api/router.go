// Package api serves the sidecar's local HTTP endpoint.
//
// Exactly one route exists: GET /my-token. Every other method or path gets
// a JSON 404.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/token-sidecar/pkg/limiter"
	"github.com/Mindburn-Labs/token-sidecar/pkg/observability"
	"github.com/Mindburn-Labs/token-sidecar/pkg/token"
)

// TokenPath is the only served route.
const TokenPath = "/my-token"

// TokenIssuer issues a signed token for a subject.
type TokenIssuer interface {
	Issue(ctx context.Context, subject string) (*token.Response, error)
}

// Options configures the router. Zero values are usable.
type Options struct {
	Subject     string
	Limiter     limiter.Store
	LimitPolicy limiter.Policy
	Telemetry   *observability.Provider
	Logger      *slog.Logger
}

type tokenHandler struct {
	issuer    TokenIssuer
	subject   string
	telemetry *observability.Provider
	logger    *slog.Logger
}

// NewRouter builds the listener's handler.
func NewRouter(issuer TokenIssuer, opts Options) http.Handler {
	if opts.Subject == "" {
		opts.Subject = token.DefaultSubject
	}
	if opts.Telemetry == nil {
		opts.Telemetry = observability.Noop()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "api")

	h := &tokenHandler{
		issuer:    issuer,
		subject:   opts.Subject,
		telemetry: opts.Telemetry,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.With(RateLimitMiddleware(opts.Limiter, opts.LimitPolicy, logger)).Get(TokenPath, h.serveToken)

	notFound := func(w http.ResponseWriter, _ *http.Request) { WriteNotFound(w) }
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	return r
}

func (h *tokenHandler) serveToken(w http.ResponseWriter, r *http.Request) {
	ctx, done := h.telemetry.TrackOperation(r.Context(), "token.issue",
		attribute.String("token.subject", h.subject))

	resp, err := h.issuer.Issue(ctx, h.subject)
	done(err)
	if err != nil {
		WriteInternal(w, r, h.logger, err)
		return
	}

	h.logger.DebugContext(ctx, "token issued", "subject", resp.UserID, "request_id", RequestID(ctx))
	writeJSON(w, http.StatusOK, resp)
}
