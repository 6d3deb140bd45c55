// Package identity assigns every browser an anonymous device ID and every tab
// a session ID. The pair selects the caller's conversation.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	AnonCookieName        = "schoolinfo_anon_id"
	SessionHeaderName     = "X-Session-ID"
	DefaultSessionIDValue = "default"

	anonPrefix       = "anon_"
	anonRandomBytes  = 16
	maxSessionIDLen  = 128
	anonCookieMaxAge = 30 * 24 * time.Hour
)

// Identity is the resolved caller of one request.
type Identity struct {
	UserID    string
	SessionID string
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying the given user and session.
// Invalid session IDs fall back to DefaultSessionIDValue.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	return context.WithValue(ctx, contextKey{}, Identity{
		UserID:    userID,
		SessionID: normalizeSessionID(sessionID),
	})
}

// FromContext returns the caller attached by Middleware.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(contextKey{}).(Identity); ok {
		return id
	}
	return Identity{SessionID: DefaultSessionIDValue}
}

// UserIDFromContext extracts the anonymous device ID.
func UserIDFromContext(ctx context.Context) string {
	return FromContext(ctx).UserID
}

// SessionIDFromContext extracts the tab session ID.
func SessionIDFromContext(ctx context.Context) string {
	return FromContext(ctx).SessionID
}

func newAnonID() (string, error) {
	buf := make([]byte, anonRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return anonPrefix + hex.EncodeToString(buf), nil
}

// isValidAnonID accepts only IDs this package could have issued.
func isValidAnonID(id string) bool {
	raw, ok := strings.CutPrefix(id, anonPrefix)
	if !ok || len(raw) != 2*anonRandomBytes || strings.ToLower(raw) != raw {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

func normalizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxSessionIDLen {
		return DefaultSessionIDValue
	}
	for _, r := range id {
		if !isSessionRune(r) {
			return DefaultSessionIDValue
		}
	}
	return id
}

func isSessionRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == ':', r == '-':
		return true
	}
	return false
}

// cookieIssuer writes the anonymous device cookie.
type cookieIssuer struct {
	secure bool
}

// resolve returns the device ID from a valid cookie or issues a new one.
// The cookie is refreshed on every request so active devices keep their ID.
func (c cookieIssuer) resolve(w http.ResponseWriter, r *http.Request) (string, error) {
	var id string
	if ck, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(ck.Value) {
		id = ck.Value
	} else {
		fresh, err := newAnonID()
		if err != nil {
			return "", err
		}
		id = fresh
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	})
	return id, nil
}

// sessionIDFromRequest reads the tab session from the header, falling back to
// the session_id query parameter for websocket upgrades.
func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return normalizeSessionID(sid)
}

// Middleware injects anonymous per-device identity and per-request session ID.
// Cookies are marked Secure unless isDev is set.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	issuer := cookieIssuer{secure: !isDev}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := issuer.resolve(w, r)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithIdentity(r.Context(), userID, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
