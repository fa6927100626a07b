package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/calmpath/internal/identity"
)

// Routes groups the handlers mounted under /api.
type Routes struct {
	Guides  *GuideHandler
	Crises  *CrisisHandler
	Session *SessionHandler
	// Advisor is nil when no AI provider is configured.
	Advisor *AdvisorHandler
}

// Mount registers the /api tree on r. identityMW resolves the caller for
// every API request; routes other than the guide catalog and client config
// also require one.
func (rt Routes) Mount(r chi.Router, identityMW func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Use(identityMW)

		rt.Guides.RegisterRoutes(r)
		rt.Session.RegisterPublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireUser)
			rt.Session.RegisterRoutes(r)
			rt.Crises.RegisterRoutes(r)
			if rt.Advisor != nil {
				rt.Advisor.RegisterRoutes(r)
			}
		})

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			Error(w, http.StatusNotFound, "Not found")
		})
	})
}
