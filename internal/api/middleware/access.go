package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"regexp"
	"strings"

	"github.com/sydlexius/massaction/internal/auth"
	"github.com/sydlexius/massaction/internal/host"
)

// Header names read by the access gate.
const (
	SessionTokenHeader = "Session-Token"
	AppTokenHeader     = "App-Token" //nolint:gosec // G101: header name, not a credential
)

// hostSessionCookie matches the host's session cookie names. Remember-me
// cookies carry an extra underscore and never match.
var hostSessionCookie = regexp.MustCompile(`^glpi_[^_]+$`)

// SessionResolver resolves a host session token to the logged-in identity.
// host.Platform satisfies it.
type SessionResolver interface {
	Session(ctx context.Context, token string) (*host.SessionInfo, error)
}

// ClientRegistry answers the API-enabled flag and client matching.
type ClientRegistry interface {
	APIEnabled(ctx context.Context) (bool, error)
	MatchClients(ctx context.Context, addr netip.Addr) ([]auth.Client, error)
}

// AccessConfig configures Access.
type AccessConfig struct {
	Sessions SessionResolver
	Clients  ClientRegistry
	// SessionCookie, when set, is checked before the host's default cookie
	// names.
	SessionCookie string
	TrustProxy    bool
	// SkipClientChecks drops the API switch and client registry checks.
	// The web console sets it: it is served to logged-in users directly.
	SkipClientChecks bool
	Logger           *slog.Logger
}

// Access returns middleware that authenticates every request against the
// host session, checks the API switch, the calling client and its app
// token, and requires the read right. The resulting auth.Access is stored
// in the request context.
func Access(cfg AccessConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "access"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token := sessionToken(r, cfg.SessionCookie)
			if token == "" {
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			info, err := cfg.Sessions.Session(ctx, token)
			if err != nil {
				if errors.Is(err, host.ErrSessionInvalid) {
					deny(w, http.StatusUnauthorized, "Unauthorized")
					return
				}
				logger.Error("resolving session", slog.String("error", err.Error()))
				deny(w, http.StatusBadGateway, "Unable to reach the host platform")
				return
			}
			if info.UserID <= 0 {
				deny(w, http.StatusForbidden, "User not authenticated")
				return
			}
			if !info.HasProfile() {
				deny(w, http.StatusForbidden, "No active profile found")
				return
			}

			ip := ClientIP(r, cfg.TrustProxy)
			var clients []auth.Client
			if !cfg.SkipClientChecks {
				var status int
				var msg string
				clients, status, msg = checkClient(ctx, cfg.Clients, logger, ip, r.Header.Get(AppTokenHeader))
				if status != 0 {
					deny(w, status, msg)
					return
				}
			}

			a := &auth.Access{
				SessionToken: token,
				UserID:       info.UserID,
				UserName:     info.UserName,
				ProfileID:    info.ProfileID,
				ProfileName:  info.ProfileName,
				Rights:       info.Rights[auth.RightName],
				RemoteIP:     ip,
			}
			for _, c := range clients {
				a.ClientIDs = append(a.ClientIDs, c.ID)
			}
			if !a.Can(auth.RightRead) {
				deny(w, http.StatusForbidden, "Insufficient rights")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.NewContext(ctx, a)))
		})
	}
}

// checkClient applies the API switch, the client registry and the app
// token. A non-zero status means the request is denied.
func checkClient(ctx context.Context, registry ClientRegistry, logger *slog.Logger, ip, appToken string) ([]auth.Client, int, string) {
	enabled, err := registry.APIEnabled(ctx)
	if err != nil {
		logger.Error("reading api flag", slog.String("error", err.Error()))
		return nil, http.StatusInternalServerError, "internal error"
	}
	if !enabled {
		return nil, http.StatusForbidden, "API disabled"
	}

	var clients []auth.Client
	if addr, err := netip.ParseAddr(ip); err == nil {
		clients, err = registry.MatchClients(ctx, addr.Unmap())
		if err != nil {
			logger.Error("matching api clients", slog.String("error", err.Error()))
			return nil, http.StatusInternalServerError, "internal error"
		}
	}
	if len(clients) == 0 {
		return nil, http.StatusForbidden,
			fmt.Sprintf("There isn't an active API client matching your IP address in the configuration (%s)", ip)
	}
	if !auth.VerifyAppToken(clients, appToken) {
		return nil, http.StatusForbidden, "Invalid application token"
	}
	return clients, 0, ""
}

// RequireRight returns middleware that rejects callers lacking right.
func RequireRight(right int) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			a, ok := auth.FromContext(r.Context())
			if !ok || !a.Can(right) {
				deny(w, http.StatusForbidden, "Insufficient rights")
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

// sessionToken reads the Session-Token header, then the configured cookie,
// then the first cookie named like a host session.
func sessionToken(r *http.Request, cookieName string) string {
	if v := strings.TrimSpace(r.Header.Get(SessionTokenHeader)); v != "" {
		return v
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	for _, c := range r.Cookies() {
		if hostSessionCookie.MatchString(c.Name) && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

func deny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}
