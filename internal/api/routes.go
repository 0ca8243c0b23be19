package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter configures the full route tree.
func NewRouter(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Get("/unsubscribe", h.UnsubscribeLink)

	// Provider callbacks are unauthenticated by design; events for unknown
	// message IDs are dropped.
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/sparkpost", h.SparkPostWebhook)
		r.Post("/ses", h.SESWebhook)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/events", h.IngestEvent)

		r.Route("/journeys", func(r chi.Router) {
			r.Get("/", h.ListJourneys)
			r.Post("/", h.CreateJourney)
			r.Route("/{journeyID}", func(r chi.Router) {
				r.Get("/", h.GetJourney)
				r.Put("/", h.UpdateJourney)
				r.Post("/activate", h.ActivateJourney)
				r.Post("/pause", h.PauseJourney)
				r.Post("/resume", h.ResumeJourney)
				r.Post("/archive", h.ArchiveJourney)
				r.Post("/enroll", h.EnrollContact)
				r.Get("/enrollments", h.ListJourneyEnrollments)
				r.Get("/analytics", h.JourneyAnalytics)
			})
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Put("/", h.UpdateCampaign)
				r.Post("/send", h.SendCampaign)
				r.Get("/analytics", h.CampaignAnalytics)
			})
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.ListContacts)
			r.Post("/", h.CreateContact)
			r.Route("/{contactID}", func(r chi.Router) {
				r.Get("/", h.GetContact)
				r.Post("/tags", h.AddContactTag)
				r.Post("/unsubscribe", h.UnsubscribeContact)
			})
		})
	})

	return r
}
