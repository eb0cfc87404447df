package server

import (
	"net/http"
)

// NewRouter builds the full HTTP handler: routes plus the middleware chain
// (route gate innermost, then CORS, request logging, and panic recovery
// outermost).
func NewRouter(authHandlers *AuthHandlers, pageHandlers *PageHandlers, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	// Auth API
	mux.HandleFunc("GET /api/auth/generate-state", authHandlers.GenerateStateHandler)
	mux.HandleFunc("GET /api/auth/callback", authHandlers.CallbackHandler)
	mux.HandleFunc("POST /api/auth/silent", authHandlers.SilentAuthHandler)
	mux.HandleFunc("POST /api/auth/logout", authHandlers.LogoutHandler)
	mux.HandleFunc("GET /api/auth/logout", authHandlers.LogoutHandler)

	// Lark API proxy
	mux.HandleFunc("GET /api/lark/user-info", authHandlers.UserInfoHandler)

	// Pages
	mux.HandleFunc("GET /login", pageHandlers.LoginHandler)
	mux.HandleFunc("GET /{$}", pageHandlers.HomeHandler)

	// Health
	mux.Handle("GET /healthz", NewHealthHandler())

	return ChainMiddleware(mux,
		NewRouteGateMiddleware(),
		NewCORSMiddleware(allowedOrigins),
		NewLoggerMiddleware("http"),
		NewRecoverMiddleware("http"),
	)
}
