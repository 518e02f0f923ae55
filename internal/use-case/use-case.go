package use_case

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/makwanas/TripHouse/internal/blob"
	"github.com/makwanas/TripHouse/internal/entities"
	"github.com/makwanas/TripHouse/internal/processor"
	"github.com/makwanas/TripHouse/internal/transport/handler"
)

type PhotoRepo interface {
	Insert(ctx context.Context, p entities.Photo) (entities.Photo, error)
	GetByID(ctx context.Context, id string) (entities.Photo, error)
	GetByLodgingID(ctx context.Context, lodgingID string) ([]entities.Photo, error)
	GetByUserID(ctx context.Context, userID string) ([]entities.Photo, error)
	UpdateCaption(ctx context.Context, id string, caption *string) error
	Delete(ctx context.Context, id string) error
}

type BlobStorage interface {
	UploadAsync(ctx context.Context, filename, contentType string, payload []byte, meta map[string]string, onSuccess func(objectID string)) error
	GetByName(ctx context.Context, filename string) (io.ReadCloser, string, error)
	ResolveName(ctx context.Context, filename string) (string, error)
	Delete(ctx context.Context, objectID, filename string) error
}

type JobQueue interface {
	Enqueue(ctx context.Context, photoID string) error
}

type useCase struct {
	photos  PhotoRepo
	storage BlobStorage
	wqueue  JobQueue
}

func New(photos PhotoRepo, storage BlobStorage, wqueue JobQueue) *useCase {
	return &useCase{
		photos:  photos,
		storage: storage,
		wqueue:  wqueue,
	}
}

// UploadPhoto records the photo, stores the original and enqueues the
// derivative job. The blob put runs on the upload pool; the job is published
// only from its success hook, so a worker never chases an object that was
// never fully stored. Processing is asynchronous — callers poll the record
// for a populated derivative map.
func (c *useCase) UploadPhoto(ctx context.Context, file multipart.File, fh *multipart.FileHeader, contentType string, params handler.UploadPhotoParams) (entities.Photo, error) {
	data, width, height, err := readImage(file, contentType)
	if err != nil {
		return entities.Photo{}, fmt.Errorf("error processing image: %w", err)
	}

	id := uuid.NewString()
	rec := entities.Photo{
		ID:          id,
		LodgingID:   params.LodgingID,
		UserID:      params.UserID,
		ContentType: contentType,
		Filename:    entities.PhotoFilename(id, entities.SizeOriginal),
		Size:        int64(len(data)),
		Width:       width,
		Height:      height,
	}
	if params.Caption != "" {
		rec.Caption = &params.Caption
	}

	inserted, err := c.photos.Insert(ctx, rec)
	if err != nil {
		return entities.Photo{}, err
	}

	meta := map[string]string{
		"photoid":   id,
		"lodgingid": params.LodgingID,
		"userid":    params.UserID,
		"caption":   params.Caption,
		"width":     strconv.Itoa(width),
		"height":    strconv.Itoa(height),
	}
	err = c.storage.UploadAsync(ctx, rec.Filename, contentType, data, meta, func(objectID string) {
		if err := c.wqueue.Enqueue(context.Background(), id); err != nil {
			log.Printf("[upload] enqueue job for photo %s failed: %v", id, err)
		}
	})
	if err != nil {
		return entities.Photo{}, err
	}

	return inserted, nil
}

func (c *useCase) GetPhoto(ctx context.Context, id string) (entities.Photo, error) {
	return c.photos.GetByID(ctx, id)
}

func (c *useCase) ListLodgingPhotos(ctx context.Context, lodgingID string) ([]entities.Photo, error) {
	return c.photos.GetByLodgingID(ctx, lodgingID)
}

func (c *useCase) ListUserPhotos(ctx context.Context, userID string) ([]entities.Photo, error) {
	return c.photos.GetByUserID(ctx, userID)
}

func (c *useCase) UpdateCaption(ctx context.Context, id string, caption *string) error {
	return c.photos.UpdateCaption(ctx, id, caption)
}

// DeletePhoto removes every stored variant before the record itself, so no
// record ever points at a missing object. Blob deletes are idempotent;
// rerunning after a partial failure is safe.
func (c *useCase) DeletePhoto(ctx context.Context, id string) error {
	rec, err := c.photos.GetByID(ctx, id)
	if err != nil {
		return err
	}

	for token, d := range rec.Derivatives {
		if token == entities.SizeOriginal {
			continue // the original goes last
		}
		filename := strings.TrimPrefix(d.Path, "media/photos/")
		if err := c.storage.Delete(ctx, d.ObjectID, filename); err != nil {
			return fmt.Errorf("delete derivative %s of photo %s: %w", token, id, err)
		}
	}

	origID := ""
	if d, ok := rec.Derivatives[entities.SizeOriginal]; ok {
		origID = d.ObjectID
	}
	if origID == "" {
		// Not processed yet (or the worker never resolved it); fall back to
		// the name index. Only a clean miss means there is nothing to delete;
		// an index read failure aborts so the record survives for a retry.
		origID, err = c.storage.ResolveName(ctx, rec.Filename)
		if err != nil {
			if !errors.Is(err, blob.ErrNotFound) {
				return fmt.Errorf("resolve original of photo %s: %w", id, err)
			}
			origID = ""
		}
	}
	if origID != "" {
		if err := c.storage.Delete(ctx, origID, rec.Filename); err != nil {
			return fmt.Errorf("delete original of photo %s: %w", id, err)
		}
	}

	return c.photos.Delete(ctx, id)
}

// OpenMedia resolves a media path ("orig" or a numeric width) to a readable
// stream. Numeric sizes go straight through the blob store's name index; only
// "orig" needs the record, because the canonical original name lives there.
func (c *useCase) OpenMedia(ctx context.Context, photoID, size string) (io.ReadCloser, string, error) {
	filename := entities.PhotoFilename(photoID, size)
	if size == entities.SizeOriginal {
		rec, err := c.photos.GetByID(ctx, photoID)
		if err != nil {
			return nil, "", err
		}
		filename = rec.Filename
	}
	return c.storage.GetByName(ctx, filename)
}

func readImage(file multipart.File, contentType string) ([]byte, int, int, error) {
	b, err := io.ReadAll(file)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read image: %w", err)
	}

	imgp := &processor.ImageProcessor{}
	if err := imgp.Load(bytes.NewReader(b), contentType); err != nil {
		return nil, 0, 0, err
	}

	width, height := imgp.GetBounds()
	return b, width, height, nil
}
