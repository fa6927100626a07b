// Package identity resolves the caller of a request, either from a header set
// by a trusted authenticating proxy or from an anonymous per-device cookie.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/calmpath/internal/domain"
	"github.com/ashureev/calmpath/internal/store"
)

// Mode selects how callers are identified.
type Mode string

const (
	// ModeHeader trusts a user id header injected by an authenticating proxy.
	ModeHeader Mode = "header"
	// ModeAnonymous mints a per-device id stored in a cookie.
	ModeAnonymous Mode = "anonymous"
)

const (
	AnonCookieName    = "calmpath_anon_id"
	DefaultUserHeader = "X-Forwarded-User"
	anonCookieMaxAge  = 30 * 24 * time.Hour
	maxHeaderIDLength = 256
)

type contextKey int

const userIDKey contextKey = iota

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// Options configures Middleware.
type Options struct {
	Mode       Mode
	UserHeader string
	// SecureCookie marks the anonymous cookie Secure. Disable for plain-http dev.
	SecureCookie bool
}

// ParseMode validates a configured auth mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeHeader, ModeAnonymous:
		return m, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q (want %q or %q)", s, ModeHeader, ModeAnonymous)
	}
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func generateAnonID() string {
	return "anon_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// displayName shortens minted anonymous ids to their last eight characters.
func displayName(u *domain.User) string {
	if u.IsAnonymous() && len(u.UserID) > 13 {
		return "anon-" + u.UserID[len(u.UserID)-8:]
	}
	return u.UserID
}

// ensureUser records the caller, creating the row on first sight.
func ensureUser(ctx context.Context, repo store.Repository, userID string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	if user != nil {
		return repo.UpdateLastSeen(ctx, userID, now)
	}
	user = &domain.User{
		UserID:     userID,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	user.DisplayName = displayName(user)
	return repo.UpsertUser(ctx, user)
}

func setAnonCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, secure bool) string {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, secure)
		return c.Value
	}
	id := generateAnonID()
	setAnonCookie(w, id, secure)
	return id
}

func headerUserID(r *http.Request, header string) string {
	id := strings.TrimSpace(r.Header.Get(header))
	if len(id) > maxHeaderIDLength {
		return ""
	}
	return id
}

// Middleware resolves the caller and stores its id in the request context.
// Requests without an identity pass through with an empty id; use
// RequireUser to reject them.
func Middleware(repo store.Repository, opts Options) func(http.Handler) http.Handler {
	if opts.UserHeader == "" {
		opts.UserHeader = DefaultUserHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			switch opts.Mode {
			case ModeAnonymous:
				userID = getOrCreateAnonID(w, r, opts.SecureCookie)
			default:
				userID = headerUserID(r, opts.UserHeader)
			}

			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := ensureUser(r.Context(), repo, userID); err != nil {
				slog.Error("Failed to record user", "user_id", userID, "error", err)
				writeJSONError(w, http.StatusInternalServerError, "failed to initialize user")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// RequireUser rejects requests that carry no caller identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserIDFromContext(r.Context()) == "" {
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
