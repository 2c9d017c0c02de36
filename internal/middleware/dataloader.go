package middleware

import (
	"net/http"

	"github.com/rpattn/buildtrack/internal/repository"
	"github.com/rpattn/buildtrack/internal/userloader"
)

// DataLoaderMiddleware attaches a request-scoped user loader to the context
func DataLoaderMiddleware(repo repository.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := userloader.NewUserLoader(repo)
			ctx := userloader.WithLoader(r.Context(), loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
