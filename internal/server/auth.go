package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type AuthConfig struct {
	JWTSecret string
	// AllowActorHeader accepts an unauthenticated X-Actor-Id header. Development only.
	AllowActorHeader bool
	Logger           *zap.Logger
}

// Principal is the officer acting on a request. ActorID ends up in event
// logs and as issued_by on documents. Name and Source only go to the
// request log.
type Principal struct {
	ActorID string
	Name    string
	Source  string
}

type principalKey struct{}

// loggedPrincipalKey holds the *Principal slot requestLogger reads back once
// the handler returns.
type loggedPrincipalKey struct{}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p.ActorID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// officerClaims are the claims the land records office puts in its tokens.
// The subject is the officer's id.
type officerClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

var errNoSubject = errors.New("token has no subject")

func parseOfficerToken(raw, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	var claims officerClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errNoSubject
	}
	return Principal{ActorID: claims.Subject, Name: claims.Name, Source: "jwt"}, nil
}

// resolvePrincipal reads the caller from the request. A nil principal with a
// nil error means the request carried no credentials at all.
func resolvePrincipal(req *http.Request, cfg AuthConfig, logger *zap.Logger) (*Principal, huma.StatusError) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		scheme, token, ok := strings.Cut(authz, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
		}
		p, err := parseOfficerToken(token, cfg.JWTSecret)
		if err != nil {
			logger.Debug("bearer token rejected", zap.Error(err))
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
		}
		return &p, nil
	}
	if actor := strings.TrimSpace(req.Header.Get("X-Actor-Id")); actor != "" && cfg.AllowActorHeader {
		logger.Warn("unauthenticated X-Actor-Id header accepted", zap.String("actor_id", actor))
		return &Principal{ActorID: actor, Source: "actor_header"}, nil
	}
	return nil, nil
}

// newAuthMiddleware guards basePath. Health, the OpenAPI document and
// everything outside basePath (verification, metrics, docs) stay public.
func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			p, serr := resolvePrincipal(req, cfg, logger)
			if serr != nil {
				respondStatusError(w, serr)
				return
			}
			if p == nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if slot, ok := req.Context().Value(loggedPrincipalKey{}).(*Principal); ok {
				*slot = *p
			}
			next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), principalKey{}, *p)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
