package router

import (
	"github.com/go-chi/chi/v5"

	"github.com/makwanas/TripHouse/internal/transport/handler"
)

func NewRouter(h *handler.Handler) chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/photos", h.UploadPhoto)
		r.Get("/photos/{id}", h.GetPhoto)
		r.Put("/photos/{id}", h.UpdatePhoto)
		r.Delete("/photos/{id}", h.DeletePhoto)
		r.Get("/lodgings/{id}/photos", h.ListLodgingPhotos)
		r.Get("/users/{id}/photos", h.ListUserPhotos)
	})

	r.Get("/media/photos/{filename}", h.ServeMedia)

	return r
}
