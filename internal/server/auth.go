package server

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// APIKey maps a bcrypt-hashed bearer token to the contact whose view of
// the data it grants. An empty Contact grants unrestricted access.
type APIKey struct {
	Name    string `mapstructure:"name" json:"name"`
	Contact string `mapstructure:"contact" json:"contact"`
	Hash    string `mapstructure:"hash" json:"-"`
}

// HashKey returns the bcrypt hash to store for a new token.
func HashKey(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// keyRing verifies bearer tokens. Verified tokens are remembered so that
// bcrypt runs once per token rather than once per request.
type keyRing struct {
	keys     []APIKey
	required bool

	mu       sync.RWMutex
	verified map[string]*APIKey
}

func newKeyRing(keys []APIKey, required bool) *keyRing {
	return &keyRing{
		keys:     keys,
		required: required,
		verified: make(map[string]*APIKey),
	}
}

func (k *keyRing) lookup(token string) *APIKey {
	k.mu.RLock()
	key, ok := k.verified[token]
	k.mu.RUnlock()
	if ok {
		return key
	}

	for i := range k.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.keys[i].Hash), []byte(token)) == nil {
			key = &k.keys[i]
			k.mu.Lock()
			k.verified[token] = key
			k.mu.Unlock()
			return key
		}
	}
	return nil
}

type ctxKey int

const keyCtxKey ctxKey = 0

// keyFrom returns the API key that authenticated the request, or nil for
// anonymous access.
func keyFrom(ctx context.Context) *APIKey {
	key, _ := ctx.Value(keyCtxKey).(*APIKey)
	return key
}

// AuthMiddleware checks for a valid token in the Authorization header or
// the token query parameter. Without a token the request proceeds
// anonymously unless authentication is required.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		var token string
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			token = r.URL.Query().Get("token")
		}

		if token == "" {
			if s.keys.required {
				w.Header().Set("WWW-Authenticate", `Bearer realm="livequery"`)
				http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		key := s.keys.lookup(token)
		if key == nil {
			s.log.Warn("rejected api token", zap.String("remote", r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Bearer realm="livequery"`)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyCtxKey, key)))
	})
}
