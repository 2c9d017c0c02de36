package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/buildtrack/internal/domain"
)

type contextKey string

const userIDKey contextKey = "userID"

// UserHeader carries the account id set by the upstream auth layer.
const UserHeader = "X-User-ID"

// ErrUnauthenticated means the request carried no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// ContextWithUserID returns a new context that carries the authenticated user.
func ContextWithUserID(ctx context.Context, id int64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext retrieves the authenticated user from the context, if any.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(userIDKey).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

// RequireUser returns the authenticated user or ErrUnauthenticated.
func RequireUser(ctx context.Context) (int64, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return 0, ErrUnauthenticated
	}
	return id, nil
}

// EnforceBuildOwner ensures the authenticated user owns the build.
func EnforceBuildOwner(ctx context.Context, ownerID int64) error {
	userID, err := RequireUser(ctx)
	if err != nil {
		return err
	}
	if userID != ownerID {
		return fmt.Errorf("%w: user %d does not own this build", domain.ErrForbidden, userID)
	}
	return nil
}

// Middleware reads the user header into the request context. Requests without
// a valid header pass through anonymously; handlers decide whether that is allowed.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(UserHeader))
		if raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				r = r.WithContext(ContextWithUserID(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Provenance reports the client address and user agent of a request. The first
// X-Forwarded-For hop wins over the socket address.
func Provenance(r *http.Request) *domain.Provenance {
	ip := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0])
	if ip == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip = host
	}
	return &domain.Provenance{IPAddress: ip, UserAgent: r.UserAgent()}
}
