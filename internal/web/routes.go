package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/attendance/internal/web/handlers"
	"github.com/kozaktomas/attendance/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Catalog, s.log)
	recognizeHandler := handlers.NewRecognizeHandler(s.deps.Recognition, s.deps.Ledger, s.log)
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Ledger, s.log)

	adminOnly := middleware.RequireAdminKey(s.config.AdminKey, s.config.AdminKeyRequired())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		if s.deps.Registry != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))
		}

		// Enrollment and identities
		r.Post("/enroll", identitiesHandler.Enroll)
		r.Get("/identities", identitiesHandler.List)
		r.Get("/identities/{id}", identitiesHandler.Get)
		r.Get("/archive", identitiesHandler.ListArchived)

		// Recognition
		r.Post("/recognize", recognizeHandler.Recognize)

		// Attendance
		r.Post("/attendance/mark", attendanceHandler.Mark)
		r.Post("/attendance/manual", attendanceHandler.Manual)
		r.Get("/attendance", attendanceHandler.List)
		r.Patch("/attendance/{id}", attendanceHandler.Edit)
		r.Delete("/attendance/{id}", attendanceHandler.Delete)

		// Destructive operations
		r.Group(func(r chi.Router) {
			r.Use(adminOnly)
			r.Delete("/identities/{id}", identitiesHandler.Remove)
			r.Delete("/archive/{dir}", identitiesHandler.PurgeArchived)
			r.Delete("/attendance", attendanceHandler.DeleteAll)
			r.Post("/reconcile", identitiesHandler.Reconcile)
		})
	})
}
