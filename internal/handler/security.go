package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/store-backoffice/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, as stored in
// api_keys.key_hash.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *SecurityHandler) lookup(r *http.Request, key string) (*auth.APIKeyInfo, error) {
	hash := HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(r.Context(), hash)
	if err != nil {
		return nil, err
	}

	// The stored row must match what we computed, not just what we asked for.
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return nil, auth.ErrKeyNotFound
	}
	return info, nil
}

// Authenticate rejects requests without a valid API key and stores the key
// in the request context.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			writeProblem(w, http.StatusUnauthorized, problem{Reason: "unauthorized", Message: "API key required."})
			return
		}

		info, err := s.lookup(r, key)
		if err != nil {
			if !errors.Is(err, auth.ErrKeyNotFound) {
				zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
			}
			writeProblem(w, http.StatusUnauthorized, problem{Reason: "unauthorized", Message: "Invalid API key."})
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithKey(r.Context(), info)))
	})
}

// Require rejects authenticated requests whose key lacks scope.
func (s *SecurityHandler) Require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := auth.KeyFromContext(r.Context())
			if !ok || !info.HasScope(scope) {
				writeProblem(w, http.StatusForbidden, problem{Reason: "forbidden", Message: "API key lacks scope " + scope + "."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
