package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/spellduel/broker/internal/account"
	"github.com/spellduel/broker/internal/ranking"
)

// Saver is the slice of the persistence gateway the handlers need.
type Saver interface {
	ScheduleSave()
}

type Deps struct {
	Accounts   *account.Store
	Rankings   *ranking.Ledger
	Saver      Saver
	Log        *zap.SugaredLogger
	CORSOrigin string
}

// SetupRoutes builds the router with the websocket endpoint and the account
// surface mounted.
func SetupRoutes(d Deps, wsHandler http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(d.CORSOrigin))

	r.Get("/healthz", Healthz)
	r.Get("/ws", wsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", RegisterAccount(d))
		r.Post("/login", Login(d))
		r.Post("/verify-session", VerifySession(d))
		r.Post("/change-nickname", ChangeNickname(d))
		r.Post("/change-icon", ChangeIcon(d))
		r.Post("/update-trophies", UpdateTrophies(d))
		r.Get("/rankings/{category}", Rankings(d))
		r.Get("/profile/{userID}", Profile(d))
	})
	return r
}

func corsMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
