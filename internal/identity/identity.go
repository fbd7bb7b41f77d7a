// Package identity provides anonymous per-device identity primitives.
// Each browser gets a long-lived profile cookie; the profile ID keys the
// persisted assessment session.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	ProfileCookieName = "assess_profile_id"
	profileMaxAge     = 30 * 24 * time.Hour
)

type contextKey int

const profileIDKey contextKey = iota

var profileIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// ProfileIDFromContext extracts the profile ID from the request context.
func ProfileIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(profileIDKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithProfileID is used by tests and internal callers to seed a
// request context without running the middleware.
func ContextWithProfileID(ctx context.Context, profileID string) context.Context {
	return context.WithValue(ctx, profileIDKey, profileID)
}

func generateProfileID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate profile id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidProfileID(id string) bool {
	return profileIDPattern.MatchString(id)
}

func setProfileCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     ProfileCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(profileMaxAge.Seconds()),
		Expires:  time.Now().Add(profileMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateProfileID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(ProfileCookieName); err == nil && isValidProfileID(c.Value) {
		// Refresh expiry on every visit so returning users keep their
		// saved session.
		setProfileCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateProfileID()
	if err != nil {
		return "", err
	}
	setProfileCookie(w, id, isDev)
	return id, nil
}

// Middleware injects the anonymous per-device profile ID into the
// request context, minting a new one when the cookie is absent or
// malformed.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profileID, err := getOrCreateProfileID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := ContextWithProfileID(r.Context(), profileID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
