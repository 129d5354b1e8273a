package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

type contextKey struct{}

// UserLoader loads the user named by a token subject.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Config contains configuration for the auth middleware.
type Config struct {
	// SkipPaths are paths that skip authentication.
	SkipPaths []string
}

// DefaultConfig returns the default auth configuration.
func DefaultConfig() Config {
	return Config{
		SkipPaths: []string{"/health"},
	}
}

// Middleware verifies the bearer token, loads the user and attaches a
// domain.Caller to the request context.
func Middleware(tokens *TokenManager, users UserLoader, config Config, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range config.SkipPaths {
				if r.URL.Path == path {
					next.ServeHTTP(w, r)
					return
				}
			}

			caller, err := authenticate(r, tokens, users)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("bearer authentication failed")
				writeErr(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func authenticate(r *http.Request, tokens *TokenManager, users UserLoader) (domain.Caller, error) {
	header := r.Header.Get(AuthorizationHeader)
	if len(header) < len(BearerPrefix) || !strings.EqualFold(header[:len(BearerPrefix)], BearerPrefix) {
		return domain.Caller{}, domain.NewDomainError(domain.ErrUnauthorized, "missing bearer token", "")
	}

	claims, err := tokens.Verify(strings.TrimSpace(header[len(BearerPrefix):]))
	if err != nil {
		return domain.Caller{}, err
	}

	user, err := users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Caller{}, domain.ErrInvalidToken
		}
		return domain.Caller{}, errors.Join(domain.ErrInternal, err)
	}
	if !user.CanAuthenticate() {
		return domain.Caller{}, domain.ErrUserInactive
	}

	return domain.CallerFromUser(user), nil
}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller domain.Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, caller)
}

// CallerFromContext retrieves the caller attached by Middleware.
func CallerFromContext(ctx context.Context) (domain.Caller, bool) {
	caller, ok := ctx.Value(contextKey{}).(domain.Caller)
	return caller, ok
}

// RequireCaller is a helper to get the caller or return an error.
func RequireCaller(ctx context.Context) (domain.Caller, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return domain.Caller{}, domain.ErrUnauthorized
	}
	return caller, nil
}
