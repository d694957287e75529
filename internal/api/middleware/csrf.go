package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"
)

const csrfTokenHeader = "X-CSRF-Token" //nolint:gosec // G101: not a credential, this is an HTTP header name
const csrfCookieName = "csrf_token"
const csrfFormField = "csrf_token"

// DefaultCSRFTTL is how long an issued token stays valid.
const DefaultCSRFTTL = 12 * time.Hour

type csrfKey struct{}

// CSRF provides token-based CSRF protection for console form submissions.
// It validates that state-changing requests include a token it issued.
type CSRF struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

// NewCSRF creates a CSRF middleware instance whose tokens expire after ttl.
func NewCSRF(ttl time.Duration) *CSRF {
	if ttl <= 0 {
		ttl = DefaultCSRFTTL
	}
	return &CSRF{tokens: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// Middleware returns the CSRF handler that validates tokens on unsafe
// methods. The request's token is available to handlers via CSRFToken.
func (c *CSRF) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			token := c.ensureToken(w, r)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfKey{}, token)))
			return
		}

		token := r.Header.Get(csrfTokenHeader)
		if token == "" {
			token = r.FormValue(csrfFormField)
		}
		if token == "" || !c.valid(token) {
			deny(w, http.StatusForbidden, "invalid CSRF token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfKey{}, token)))
	})
}

// CSRFToken returns the token bound to the request, if any.
func CSRFToken(ctx context.Context) string {
	if v, ok := ctx.Value(csrfKey{}).(string); ok {
		return v
	}
	return ""
}

func (c *CSRF) ensureToken(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" && c.valid(cookie.Value) {
		return cookie.Value
	}

	token := c.generate()
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false, // console JS reads it for fetch headers
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https"),
		MaxAge:   int(c.ttl.Seconds()),
	})
	return token
}

func (c *CSRF) generate() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	token := hex.EncodeToString(b)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for t, exp := range c.tokens {
		if now.After(exp) {
			delete(c.tokens, t)
		}
	}
	c.tokens[token] = now.Add(c.ttl)
	return token
}

func (c *CSRF) valid(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.tokens[token]
	if !ok {
		return false
	}
	if c.now().After(exp) {
		delete(c.tokens, token)
		return false
	}
	return true
}
