package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/earntube/earntube-system/internal/middleware"
)

// SetupRouter настраивает маршруты API и общие middleware.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.GzipMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
		})

		r.Post("/payment/submit", h.SubmitPayment)

		r.Route("/user", func(r chi.Router) {
			// Вывод средств принимает идентификатор в теле запроса,
			// поэтому остаётся вне сессионного middleware.
			r.Post("/withdraw", h.Withdraw)

			r.Group(func(r chi.Router) {
				r.Use(h.session.Middleware)
				r.Get("/profile", h.Profile)
				r.Get("/referrals", h.Referrals)
				r.Post("/watch-video", h.WatchVideo)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/list-pending", h.ListPendingPayments)
			r.Post("/approve", h.ApprovePayment)
			r.Get("/withdrawals", h.ListWithdrawals)
			r.Post("/withdrawals-update", h.UpdateWithdrawal)
		})
	})

	return r
}
