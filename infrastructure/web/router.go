// Package web is the HTTP/WebSocket boundary of the delivery engine.
// It translates requests into service calls and sessions into EventSinks;
// no delivery or consistency logic lives here.
package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dm-engine/auth"
)

func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Get("/ws", h.Connect)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users/sign-up", h.SignUp)
		r.Post("/users/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Post("/messages/send", h.SendMessage)
			r.Get("/messages/chats/list", h.ListChats)
			r.Get("/messages/{userID}", h.GetMessages)
		})
	})
	return r
}
