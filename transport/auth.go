package transport

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/briandenicola/art-voice-agent-accelerator/config"
	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// Authenticator validates JWT bearer tokens on incoming media
// connections. A nil *Authenticator accepts every connection, which is
// how disabled auth is represented.
type Authenticator struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

// NewAuthenticator builds an authenticator from config. Returns nil
// when auth is disabled.
func NewAuthenticator(cfg config.AuthConfig, logger *zap.Logger) *Authenticator {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		logger: logger.With(zap.String("component", "transport_auth")),
	}
}

// Authenticate verifies the request's bearer token and returns the
// token subject. Browser WebSocket clients cannot set request headers,
// so an access_token query parameter is accepted as a fallback.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if a == nil {
		return "", nil
	}

	tokenStr := bearerToken(r)
	if tokenStr == "" {
		return "", types.NewError(types.ErrUnauthorized, "missing bearer token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.Parse(tokenStr, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		a.logger.Debug("token validation failed", zap.Error(err))
		return "", types.NewError(types.ErrUnauthorized, "invalid or expired token").WithCause(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", types.NewError(types.ErrUnauthorized, "invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	return sub, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
