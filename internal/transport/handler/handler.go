package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/makwanas/TripHouse/internal/blob"
	"github.com/makwanas/TripHouse/internal/config"
	"github.com/makwanas/TripHouse/internal/entities"
	"github.com/makwanas/TripHouse/internal/repository/photo"
)

type UseCase interface {
	UploadPhoto(ctx context.Context, file multipart.File, fh *multipart.FileHeader, contentType string, params UploadPhotoParams) (entities.Photo, error)
	GetPhoto(ctx context.Context, id string) (entities.Photo, error)
	ListLodgingPhotos(ctx context.Context, lodgingID string) ([]entities.Photo, error)
	ListUserPhotos(ctx context.Context, userID string) ([]entities.Photo, error)
	UpdateCaption(ctx context.Context, id string, caption *string) error
	DeletePhoto(ctx context.Context, id string) error
	OpenMedia(ctx context.Context, photoID, size string) (io.ReadCloser, string, error)
}

type Handler struct {
	useCase   UseCase
	cfg       *config.Config
	validator *validator.Validate
}

func New(useCase UseCase, cfg *config.Config) *Handler {
	return &Handler{
		useCase:   useCase,
		cfg:       cfg,
		validator: validator.New(),
	}
}

func (h *Handler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Upload.MaxRequestBodyMB<<20)

	maxMultipartMem := h.cfg.Upload.MaxMultipartMemoryMB
	if err := r.ParseMultipartForm(maxMultipartMem << 20); err != nil {
		writeMultipartError(w, err)
		return
	}

	file, fh, err := r.FormFile("image")
	if err != nil {
		if strings.Contains(err.Error(), "no such file") {
			writeJSONError(w, `missing image file: form field key should be "image"`, http.StatusBadRequest)
		} else {
			writeJSONError(w, "an error occurred while uploading the file: "+err.Error(), http.StatusBadRequest)
		}
		return
	}
	defer file.Close()

	params := UploadPhotoParams{
		LodgingID: r.Form.Get("lodgingID"),
		Caption:   r.Form.Get("caption"),
		UserID:    r.Form.Get("userID"),
	}

	if err := h.validator.Struct(params); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(validationErrorsToMap(err))
		return
	}

	mime, err := mimetype.DetectReader(file)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_, err = file.Seek(0, 0)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	fileType := mime.String()
	if err := validateMimeType(fileType); err != nil {
		writeJSONError(w, fmt.Sprintf("unsupported file type: %s", fileType), http.StatusBadRequest)
		return
	}

	// Not the request context: the async original upload and the job publish
	// must outlive this request.
	ctx := context.Background()

	p, err := h.useCase.UploadPhoto(ctx, file, fh, fileType, params)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)

	if err := json.NewEncoder(w).Encode(p); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	p, err := h.useCase.GetPhoto(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, photo.ErrNotFound) {
			writeJSONError(w, "photo not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}

func (h *Handler) ListLodgingPhotos(w http.ResponseWriter, r *http.Request) {
	photos, err := h.useCase.ListLodgingPhotos(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(photos)
}

func (h *Handler) ListUserPhotos(w http.ResponseWriter, r *http.Request) {
	photos, err := h.useCase.ListUserPhotos(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(photos)
}

func (h *Handler) UpdatePhoto(w http.ResponseWriter, r *http.Request) {
	var req UpdatePhotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "request body is not a valid photo object", http.StatusBadRequest)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(validationErrorsToMap(err))
		return
	}

	if err := h.useCase.UpdateCaption(r.Context(), chi.URLParam(r, "id"), req.Caption); err != nil {
		if errors.Is(err, photo.ErrNotFound) {
			writeJSONError(w, "photo not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	if err := h.useCase.DeletePhoto(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, photo.ErrNotFound) {
			writeJSONError(w, "photo not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ServeMedia streams one stored variant by its public name,
// "media/photos/<photoID>--<size>.jpg". Numeric sizes resolve straight
// through the blob store's name index; "orig" goes via the record.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	photoID, size, ok := splitMediaName(chi.URLParam(r, "filename"))
	if !ok {
		writeJSONError(w, "not found", http.StatusNotFound)
		return
	}

	body, contentType, err := h.useCase.OpenMedia(r.Context(), photoID, size)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, photo.ErrNotFound) {
			writeJSONError(w, "not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, body); err != nil {
		// headers are gone already; nothing left to do but note it
		return
	}
}
