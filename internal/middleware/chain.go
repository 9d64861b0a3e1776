package middleware

import (
	"log/slog"
	"net/http"

	"github.com/modelgate/modelgate/internal/config"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// Set contains all configured middleware for easy composition
type Set struct {
	Logging Middleware
	Auth    Middleware
}

// NewSet creates the gateway's middleware with proper dependencies
func NewSet(config *config.Manager, logger *slog.Logger) Set {
	return Set{
		Logging: NewLoggingMiddleware(logger),
		Auth:    NewAuthMiddleware(config, logger),
	}
}

// DefaultChain returns the standard middleware chain for API endpoints
func (s Set) DefaultChain() Chain {
	return New(
		s.Logging,
		s.Auth,
	)
}

// PublicChain returns the chain for unauthenticated endpoints
func (s Set) PublicChain() Chain {
	return New(
		s.Logging,
	)
}
