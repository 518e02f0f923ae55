package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/makwanas/TripHouse/internal/cache"
	conf "github.com/makwanas/TripHouse/internal/config"
)

type uploadReq struct {
	ctx         context.Context
	filename    string
	contentType string
	payload     []byte
	meta        map[string]string

	onSuccess func(objectID string)
}

// Store keeps photo objects in an S3-compatible bucket, keyed by a generated
// object id. A Redis-backed index maps logical filenames (e.g.
// "<photoID>--256.jpg") to object ids so the media read path can resolve a
// name without touching the metadata store.
type Store struct {
	AccountID          string
	Bucket             string
	Region             string // usually "auto" for R2
	Endpoint           string
	AwsAccessKeyId     string
	AwsSecretAccessKey string

	Workers        int
	QueueSize      int
	MaxRetries     int
	RetryBaseDelay time.Duration

	queue chan uploadReq
	wg    sync.WaitGroup

	S3Client *s3.Client
	Uploader *manager.Uploader

	Names *cache.Cache
}

func NewStorage(cfg *conf.StorageConfig, names *cache.Cache) *Store {
	st := &Store{
		AccountID:          cfg.AccountID,
		Bucket:             cfg.BucketName,
		Region:             "auto",
		Endpoint:           cfg.Endpoint,
		AwsAccessKeyId:     cfg.AccessKeyID,
		AwsSecretAccessKey: cfg.SecretKey,
		Workers:            8,
		QueueSize:          1000,
		MaxRetries:         3,
		RetryBaseDelay:     300 * time.Millisecond,
		Names:              names,
	}
	if err := st.Run(); err != nil {
		log.Fatal(err)
	}

	return st
}

func (s *Store) Run() error {
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.AwsAccessKeyId, s.AwsSecretAccessKey, "",
		)),
		awsconfig.WithRegion(s.Region),
	)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.AccountID)
	}
	s.S3Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	s.Uploader = manager.NewUploader(s.S3Client)

	s.queue = make(chan uploadReq, s.QueueSize)
	for i := 0; i < s.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	log.Println("[blob] client + upload pool initialized")
	return nil
}

// Close waits for all queued tasks to be processed.
func (s *Store) Close() {
	close(s.queue)
	s.wg.Wait()
}

// Put streams one object into the bucket under a fresh object id and records
// it in the filename index. The uploader performs a chunked multipart upload,
// so arbitrarily large bodies never have to fit in memory here. On error a
// partial object may exist under the returned id's key, but it is never
// indexed, so nothing can reference it.
func (s *Store) Put(ctx context.Context, r io.Reader, filename, contentType string, meta map[string]string) (string, error) {
	id := uuid.NewString()

	md := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		md[k] = v
	}
	md["filename"] = filename

	_, err := s.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(id),
		Body:        r,
		ContentType: aws.String(contentType),
		Metadata:    md,
	})
	if err != nil {
		return "", &WriteError{Key: id, Err: err}
	}

	if err := s.Names.Store(ctx, filename, 0, id); err != nil {
		return "", &WriteError{Key: id, Err: fmt.Errorf("index %q: %w", filename, err)}
	}
	return id, nil
}

// Get returns a readable stream of the full object.
func (s *Store) Get(ctx context.Context, objectID string) (io.ReadCloser, string, error) {
	out, err := s.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(objectID),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", ErrNotFound
		}
		return nil, "", &ReadError{Key: objectID, Err: err}
	}
	return out.Body, aws.ToString(out.ContentType), nil
}

// ResolveName maps a logical filename to the object id it was stored under.
func (s *Store) ResolveName(ctx context.Context, filename string) (string, error) {
	id, err := s.Names.Get(ctx, filename)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return "", ErrNotFound
		}
		return "", &ReadError{Key: filename, Err: err}
	}
	return id, nil
}

// GetByName resolves a logical filename through the index and streams the
// object, without consulting the metadata store.
func (s *Store) GetByName(ctx context.Context, filename string) (io.ReadCloser, string, error) {
	id, err := s.ResolveName(ctx, filename)
	if err != nil {
		return nil, "", err
	}
	return s.Get(ctx, id)
}

// Download fully materializes an object for callers that need the whole body
// before they can do anything with it (the worker's decode path). Bodies
// larger than maxBytes fail with ErrTooLarge.
func (s *Store) Download(ctx context.Context, filename string, maxBytes int64) ([]byte, string, error) {
	body, contentType, err := s.GetByName(ctx, filename)
	if err != nil {
		return nil, "", err
	}
	defer body.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(body, maxBytes+1))
	if err != nil {
		return nil, "", &ReadError{Key: filename, Err: err}
	}
	if n > maxBytes {
		return nil, "", fmt.Errorf("%q: %w", filename, ErrTooLarge)
	}
	return buf.Bytes(), contentType, nil
}

// Delete removes an object and its index entry. Deleting a nonexistent
// object is not an error.
func (s *Store) Delete(ctx context.Context, objectID, filename string) error {
	_, err := s.S3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(objectID),
	})
	if err != nil {
		return &WriteError{Key: objectID, Err: err}
	}
	if filename != "" {
		if err := s.Names.Remove(ctx, filename); err != nil {
			return &WriteError{Key: objectID, Err: fmt.Errorf("unindex %q: %w", filename, err)}
		}
	}
	return nil
}

// UploadAsync tries to put an upload on the pool queue without blocking.
// If the queue is full, it returns ErrQueueFull immediately. onSuccess runs
// only after the object is fully stored and indexed.
func (s *Store) UploadAsync(ctx context.Context, filename, contentType string, payload []byte, meta map[string]string, onSuccess func(objectID string)) error {
	req := uploadReq{ctx: ctx, filename: filename, contentType: contentType, payload: payload, meta: meta, onSuccess: onSuccess}
	select {
	case s.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (s *Store) worker() {
	defer s.wg.Done()
	for req := range s.queue {
		attempt := 0

		for {
			attempt++
			id, err := s.Put(req.ctx, bytes.NewReader(req.payload), req.filename, req.contentType, req.meta)
			if err == nil {
				if req.onSuccess != nil {
					req.onSuccess(id) // cheap enough so synchronous
				}
				break
			}

			// retry?
			if attempt > s.MaxRetries {
				log.Printf("[blob] giving up on %q after %d attempts: %v", req.filename, attempt, err)
				break
			}

			// backoff with jitter
			backoff := s.backoffDelay(attempt)
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-req.ctx.Done():
				timer.Stop()
			}
			if req.ctx != nil && req.ctx.Err() != nil {
				break
			}
		}
	}
}

func (s *Store) backoffDelay(attempt int) time.Duration {
	delay := s.RetryBaseDelay << (attempt - 1)
	jitter := time.Duration(int64(delay) / 10)
	return delay - (jitter / 2) + time.Duration(int64(jitter)*time.Now().UnixNano()%2)
}
