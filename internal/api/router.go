package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"autogenius.dev/car-diagnostics/internal/logging"
)

func NewRouter(apiHandler *APIHandler, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/", apiHandler.RootHandler)
	r.Handle("/static/uploads/*", http.StripPrefix(uploadURLPrefix, http.FileServer(http.Dir(apiHandler.uploadDir))))

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Get("/auth/login", apiHandler.LoginHandler)
		r.Get("/auth/callback", apiHandler.CallbackHandler)
		r.Get("/auth/logout", apiHandler.LogoutHandler)

		// Session-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.AuthMiddleware)

			r.Get("/auth/user", apiHandler.UserHandler)
			r.Post("/session", apiHandler.CreateSessionHandler)
			r.Post("/chat", apiHandler.ChatHandler)
			r.Post("/set-text-size", apiHandler.SetTextSizeHandler)

			r.Get("/history", apiHandler.ListHistoryHandler)
			r.Get("/history/{sessionID}", apiHandler.GetHistoryHandler)
			r.Delete("/history/{sessionID}", apiHandler.DeleteHistoryHandler)
			r.Post("/clear-history", apiHandler.ClearHistoryHandler)

			r.Post("/upload-image", apiHandler.UploadImageHandler)
		})
	})

	return r
}
