package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"

	"github.com/makwanas/TripHouse/internal/blob"
	"github.com/makwanas/TripHouse/internal/config"
	"github.com/makwanas/TripHouse/internal/entities"
	"github.com/makwanas/TripHouse/internal/processor"
	"github.com/makwanas/TripHouse/internal/repository/photo"
)

type BlobStore interface {
	Download(ctx context.Context, filename string, maxBytes int64) ([]byte, string, error)
	Put(ctx context.Context, r io.Reader, filename, contentType string, meta map[string]string) (string, error)
	ResolveName(ctx context.Context, filename string) (string, error)
}

type PhotoStore interface {
	GetByID(ctx context.Context, id string) (entities.Photo, error)
	SetDerivatives(ctx context.Context, id, filename string, d entities.Derivatives) error
}

type photoLock struct {
	mu   sync.Mutex
	refs int
}

// Worker consumes photo jobs and generates resized derivatives. One stored
// object per size, then a single metadata update, then the ack — in that
// order, so a crash anywhere leaves the message pending and the record
// either untouched or fully updated.
type Worker struct {
	rc      ClientSource
	cfg     config.PhotoWorkerConfig
	storage BlobStore
	photos  PhotoStore
	sizes   []int

	mu    sync.Mutex
	locks map[string]*photoLock
}

func NewWorker(rc ClientSource, cfg config.PhotoWorkerConfig, storage BlobStore, photos PhotoStore) *Worker {
	sizes := append([]int(nil), cfg.Sizes...)
	sort.Ints(sizes)

	return &Worker{
		rc:      rc,
		cfg:     cfg,
		storage: storage,
		photos:  photos,
		sizes:   sizes,
		locks:   make(map[string]*photoLock),
	}
}

func (w *Worker) EnsureGroup(ctx context.Context) error {
	// Without MkStream, Redis would error out if you try to create a group before any messages exist in the stream.
	err := w.rc.Get().XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	// Redis returns BUSYGROUP if the group already exists therefore we check for other errors
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (w *Worker) Start(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to ensure Redis group: %w", err)
	}

	log.Printf("[photo-worker] starting consumer group=%s stream=%s workers=%d sizes=%v",
		w.cfg.Group, w.cfg.Stream, w.cfg.Workers, w.sizes,
	)

	// Adopt orphaned pending messages left by crashed consumers, now and
	// periodically. The periodic pass is the broker-side redelivery timeout:
	// any message unacked longer than minIdle gets claimed and reprocessed.
	w.autoClaim(ctx)
	go w.claimLoop(ctx)
	log.Printf("[photo-worker] auto-claim complete, entering loop...")

	errCh := make(chan error, w.cfg.Workers)
	for i := 0; i < w.cfg.Workers; i++ {
		id := i
		go func() {
			log.Printf("[photo-worker] worker #%d started", id)
			err := w.loop(ctx)
			if err != nil {
				log.Printf("[photo-worker] worker #%d stopped with error: %v", id, err)
			} else {
				log.Printf("[photo-worker] worker #%d stopped gracefully", id)
			}
			errCh <- err
		}()
	}

	select {
	case <-ctx.Done():
		log.Printf("[photo-worker] context canceled, stopping all workers")
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker loop exited with error: %w", err)
		}
		return nil
	}
}

// minIdle is how long a message must have been pending before another
// consumer may steal it. Proportional to the block timeout so slow but live
// workers keep their messages.
func (w *Worker) minIdle() time.Duration {
	minIdle := 30 * time.Second
	if w.cfg.BlockTimeout > 0 {
		t := w.cfg.BlockTimeout * 6
		if t > minIdle {
			minIdle = t
		}
	}
	return minIdle
}

// autoClaim scans the consumer group for "stuck" messages that were delivered
// to other consumers but never acknowledged (worker crashed or was killed
// before XACK). Claimed messages re-enter this consumer's delivery and get
// retried, so incomplete jobs are never lost.
func (w *Worker) autoClaim(ctx context.Context) {
	next := "0-0"

	for {
		msgs, start, err := w.rc.Get().XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   w.cfg.Stream,
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			MinIdle:  w.minIdle(),
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil || len(msgs) == 0 {
			return
		}
		for _, m := range msgs {
			w.handle(ctx, m)
		}
		next = start
	}
}

func (w *Worker) claimLoop(ctx context.Context) {
	t := time.NewTicker(w.minIdle())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.autoClaim(ctx)
		}
	}
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		// XREADGROUP is where the actual "delivery" happens: new messages are
		// marked pending for this consumer (the group's PEL) and returned for
		// processing. A message leaves the PEL only on explicit XACK, which
		// handle() issues strictly after the job reaches a terminal outcome.
		// If the worker dies first, the message stays pending and autoClaim
		// picks it up again.
		streams, err := w.rc.Get().XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			Streams:  []string{w.cfg.Stream, ">"},
			Count:    1,
			Block:    w.cfg.BlockTimeout,
		}).Result()
		if err != nil && err != redis.Nil {
			if ctx.Err() != nil {
				return nil
			}
			// Connection trouble: the holder's health loop replaces the
			// client; the next iteration picks the new one up.
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				w.handle(ctx, m)
			}
		}
	}
}

// handle runs one delivery to a terminal outcome and lets the outcome decide
// what happens to the message: success and permanent failures are acked,
// transient failures are requeued with a bumped attempt counter, and
// messages out of attempts go to the dead-letter stream. Nothing is acked
// on an unclassified path.
func (w *Worker) handle(ctx context.Context, m redis.XMessage) {
	photoID, ok := m.Values[payloadField].(string)
	if !ok || photoID == "" {
		w.deadLetter(ctx, m, 0, fmt.Errorf("malformed message %s: missing payload", m.ID))
		return
	}
	attempt := toInt(m.Values[attemptField])

	// Redelivered duplicates of the same photo may interleave with new
	// messages; serialize per photo id so two handlers never race on one
	// record.
	unlock := w.lockPhoto(photoID)
	err := w.process(ctx, photoID)
	unlock()

	switch {
	case err == nil:
		w.ack(ctx, m)
	case IsPermanent(err):
		log.Printf("[photo-worker] dropping photo %s permanently: %v", photoID, err)
		sentry.CaptureException(err)
		w.ack(ctx, m)
	case attempt+1 >= w.cfg.MaxAttempts:
		w.deadLetter(ctx, m, attempt, err)
	default:
		w.requeue(ctx, m, photoID, attempt, err)
	}
}

func (w *Worker) ack(ctx context.Context, m redis.XMessage) {
	if err := w.rc.Get().XAck(ctx, w.cfg.Stream, w.cfg.Group, m.ID).Err(); err != nil {
		// The job itself is done; a failed ack only means a redundant rerun
		// later, which the pipeline tolerates.
		log.Printf("[photo-worker] ack %s failed: %v", m.ID, err)
	}
}

// requeue appends a retry copy with attempt+1 after a backoff, then acks the
// original. The original stays pending until the copy is durable, so a crash
// in between loses nothing — autoClaim redelivers it.
func (w *Worker) requeue(ctx context.Context, m redis.XMessage, photoID string, attempt int, cause error) {
	backoff := w.cfg.BackoffBase << attempt
	log.Printf("[photo-worker] retrying photo %s in %v (attempt %d/%d): %v",
		photoID, backoff, attempt+1, w.cfg.MaxAttempts, cause)

	timer := time.NewTimer(backoff)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return
	}

	err := w.rc.Get().XAdd(ctx, &redis.XAddArgs{
		Stream: w.cfg.Stream,
		MaxLen: w.cfg.MaxLen,
		Values: map[string]any{
			payloadField: photoID,
			attemptField: attempt + 1,
		},
	}).Err()
	if err != nil {
		log.Printf("[photo-worker] requeue of %s failed, leaving message pending: %v", photoID, err)
		return
	}
	w.ack(ctx, m)
}

// deadLetter parks a message on <stream>:dead for inspection. Only acked
// once the dead-letter copy is durable.
func (w *Worker) deadLetter(ctx context.Context, m redis.XMessage, attempt int, cause error) {
	log.Printf("[photo-worker] dead-lettering message %s after %d attempts: %v", m.ID, attempt+1, cause)
	sentry.CaptureException(cause)

	payload, _ := m.Values[payloadField].(string)
	err := w.rc.Get().XAdd(ctx, &redis.XAddArgs{
		Stream: w.cfg.Stream + ":dead",
		Values: map[string]any{
			payloadField: payload,
			attemptField: attempt,
			"error":      cause.Error(),
		},
	}).Err()
	if err != nil {
		log.Printf("[photo-worker] dead-letter of %s failed, leaving message pending: %v", m.ID, err)
		return
	}
	w.ack(ctx, m)
}

// process runs the derivative pipeline for one photo id. Errors wrapped with
// Permanent are dropped by the caller; everything else is retried.
func (w *Worker) process(ctx context.Context, photoID string) error {
	rec, err := w.photos.GetByID(ctx, photoID)
	if err != nil {
		if errors.Is(err, photo.ErrNotFound) {
			// Record deleted after enqueue; retrying is pointless.
			return Permanent(fmt.Errorf("photo %s: %w", photoID, err))
		}
		return fmt.Errorf("load photo %s: %w", photoID, err)
	}

	src, contentType, err := w.storage.Download(ctx, rec.Filename, w.cfg.MaxSourceBytes)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrTooLarge) {
			return Permanent(fmt.Errorf("source for photo %s: %w", photoID, err))
		}
		return fmt.Errorf("download source for photo %s: %w", photoID, err)
	}
	if contentType == "" {
		contentType = rec.ContentType
	}

	imgp := &processor.ImageProcessor{}
	if err := imgp.Load(bytes.NewReader(src), contentType); err != nil {
		var de *processor.DecodeError
		if errors.As(err, &de) {
			// Malformed bytes will never decode on redelivery.
			return Permanent(fmt.Errorf("photo %s: %w", photoID, err))
		}
		return fmt.Errorf("decode photo %s: %w", photoID, err)
	}

	srcWidth, _ := imgp.GetBounds()

	derivatives := entities.Derivatives{}
	var failures []error
	for _, size := range w.sizes {
		if size >= srcWidth {
			// never upscale
			continue
		}

		data, dw, dh, err := imgp.RenderWidth(size)
		if err != nil {
			log.Printf("[photo-worker] photo %s size %d: %v", photoID, size, err)
			failures = append(failures, err)
			continue
		}

		token := entities.SizeToken(size)
		filename := entities.PhotoFilename(rec.ID, token)
		objectID, err := w.storage.Put(ctx, bytes.NewReader(data), filename, "image/jpeg", map[string]string{
			"photoid":   rec.ID,
			"lodgingid": rec.LodgingID,
			"userid":    rec.UserID,
			"size":      token,
			"width":     strconv.Itoa(dw),
			"height":    strconv.Itoa(dh),
		})
		if err != nil {
			log.Printf("[photo-worker] photo %s size %d: %v", photoID, size, err)
			failures = append(failures, err)
			continue
		}

		derivatives[token] = entities.Derivative{
			ObjectID: objectID,
			Path:     entities.MediaPath(filename),
			Width:    dw,
			Height:   dh,
		}
	}

	if len(failures) > 0 {
		// Committing what succeeded would leave readers a half-populated
		// map. Retry the whole job instead; this attempt's objects stay
		// orphaned until a reconciliation sweep.
		return fmt.Errorf("%d derivative size(s) failed for photo %s: %w",
			len(failures), photoID, errors.Join(failures...))
	}

	// The original is always part of the map, even when nothing was resized.
	origID, err := w.storage.ResolveName(ctx, rec.Filename)
	if err != nil && !errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("resolve original for photo %s: %w", photoID, err)
	}
	derivatives[entities.SizeOriginal] = entities.Derivative{
		ObjectID: origID,
		Path:     entities.MediaPath(rec.Filename),
		Width:    rec.Width,
		Height:   rec.Height,
	}

	// Single-document update: readers observe the map absent or complete,
	// never in between. Last writer wins on redelivery.
	if err := w.photos.SetDerivatives(ctx, rec.ID, rec.Filename, derivatives); err != nil {
		if errors.Is(err, photo.ErrNotFound) {
			return Permanent(fmt.Errorf("photo %s deleted mid-job: %w", photoID, err))
		}
		return fmt.Errorf("update photo %s: %w", photoID, err)
	}
	return nil
}

func (w *Worker) lockPhoto(id string) func() {
	w.mu.Lock()
	l := w.locks[id]
	if l == nil {
		l = &photoLock{}
		w.locks[id] = l
	}
	l.refs++
	w.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		w.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(w.locks, id)
		}
		w.mu.Unlock()
	}
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case string:
		var x int
		fmt.Sscanf(t, "%d", &x)
		return x
	default:
		return 0
	}
}
