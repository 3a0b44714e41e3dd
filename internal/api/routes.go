package api

import (
	"github.com/go-chi/chi/v5"
)

// Routes mounts the batch and document endpoints on r. Authentication is
// applied by the caller.
func (h *BatchHandler) Routes(r chi.Router) {
	r.Route("/batches", func(r chi.Router) {
		r.Post("/", h.SubmitBatch)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetBatch)
			r.Post("/process", h.ProcessOne)
			r.Post("/cancel", h.CancelBatch)
			r.Get("/jobs", h.ListJobs)
		})
	})
	r.Get("/documents/{id}", h.GetDocument)
}
