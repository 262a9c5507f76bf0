package handlers

import (
	"net/http"
)

// Router collects the handlers served under /api/v1
type Router struct {
	Records *RecordsHandler
	Feed    *FeedHandler
	Health  *HealthHandler
	Metrics http.Handler
}

// Register mounts the routes on mux. auth wraps every route that acts on
// behalf of an actor; health and metrics stay open.
func (rt *Router) Register(mux *http.ServeMux, auth func(http.Handler) http.Handler) {
	protect := func(h http.HandlerFunc) http.Handler {
		if auth == nil {
			return h
		}
		return auth(h)
	}

	mux.Handle("POST /api/v1/records", protect(rt.Records.Create))
	mux.Handle("GET /api/v1/records", protect(rt.Records.List))
	mux.Handle("GET /api/v1/records/{id}", protect(rt.Records.Get))
	mux.Handle("PATCH /api/v1/records/{id}", protect(rt.Records.Update))
	mux.Handle("GET /api/v1/records/{id}/history", protect(rt.Records.History))
	mux.Handle("POST /api/v1/records/{id}/history", protect(rt.Records.AppendHistory))
	mux.Handle("GET /api/v1/history/{entryID}", protect(rt.Records.GetEntry))
	mux.Handle("POST /api/v1/restore", protect(rt.Records.Restore))

	if rt.Feed != nil {
		mux.Handle("GET /api/v1/feed", protect(rt.Feed.Feed))
	}
	if rt.Health != nil {
		mux.HandleFunc("GET /api/v1/health", rt.Health.Health)
	}
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}
}
