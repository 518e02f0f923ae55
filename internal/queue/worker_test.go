package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makwanas/TripHouse/internal/blob"
	"github.com/makwanas/TripHouse/internal/config"
	"github.com/makwanas/TripHouse/internal/entities"
	"github.com/makwanas/TripHouse/internal/repository/photo"
)

type fakeBlob struct {
	mu           sync.Mutex
	objects      map[string][]byte // objectID -> data
	names        map[string]string // filename -> objectID
	contentTypes map[string]string // filename -> content type
	failPut      map[string]error  // filename -> forced error
	failDownload error
	nextID       int
	puts         int
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{
		objects:      make(map[string][]byte),
		names:        make(map[string]string),
		contentTypes: make(map[string]string),
		failPut:      make(map[string]error),
	}
}

func (f *fakeBlob) add(filename, contentType string, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("obj-%d", f.nextID)
	f.objects[id] = data
	f.names[filename] = id
	f.contentTypes[filename] = contentType
	return id
}

func (f *fakeBlob) Download(ctx context.Context, filename string, maxBytes int64) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDownload != nil {
		return nil, "", f.failDownload
	}
	id, ok := f.names[filename]
	if !ok {
		return nil, "", blob.ErrNotFound
	}
	data := f.objects[id]
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", blob.ErrTooLarge
	}
	return data, f.contentTypes[filename], nil
}

func (f *fakeBlob) Put(ctx context.Context, r io.Reader, filename, contentType string, meta map[string]string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	if err := f.failPut[filename]; err != nil {
		f.mu.Unlock()
		return "", &blob.WriteError{Key: filename, Err: err}
	}
	f.puts++
	f.mu.Unlock()
	return f.add(filename, contentType, data), nil
}

func (f *fakeBlob) ResolveName(ctx context.Context, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.names[filename]
	if !ok {
		return "", blob.ErrNotFound
	}
	return id, nil
}

type fakePhotos struct {
	mu       sync.Mutex
	records  map[string]entities.Photo
	failSet  error
	setCalls int
}

func newFakePhotos(records ...entities.Photo) *fakePhotos {
	f := &fakePhotos{records: make(map[string]entities.Photo)}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return f
}

func (f *fakePhotos) GetByID(ctx context.Context, id string) (entities.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return entities.Photo{}, photo.ErrNotFound
	}
	return rec, nil
}

func (f *fakePhotos) SetDerivatives(ctx context.Context, id, filename string, d entities.Derivatives) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return f.failSet
	}
	rec, ok := f.records[id]
	if !ok {
		return photo.ErrNotFound
	}
	rec.Filename = filename
	rec.Derivatives = d
	f.records[id] = rec
	f.setCalls++
	return nil
}

func jpegBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func testWorker(storage BlobStore, photos PhotoStore) *Worker {
	return NewWorker(nil, config.PhotoWorkerConfig{
		Sizes:          []int{1024, 128, 640, 256}, // deliberately unsorted
		MaxSourceBytes: 32 << 20,
		MaxAttempts:    3,
	}, storage, photos)
}

func sourcePhoto(id string, width, height int) entities.Photo {
	return entities.Photo{
		ID:          id,
		LodgingID:   "l1",
		UserID:      "u1",
		ContentType: "image/jpeg",
		Filename:    entities.PhotoFilename(id, entities.SizeOriginal),
		Width:       width,
		Height:      height,
	}
}

func TestProcessGeneratesAllSmallerSizes(t *testing.T) {
	rec := sourcePhoto("p1", 2000, 1000)
	storage := newFakeBlob()
	origID := storage.add(rec.Filename, "image/jpeg", jpegBytes(t, 2000, 1000))
	photos := newFakePhotos(rec)

	w := testWorker(storage, photos)
	require.NoError(t, w.process(context.Background(), "p1"))

	got := photos.records["p1"].Derivatives
	require.Len(t, got, 5)
	for _, token := range []string{"orig", "128", "256", "640", "1024"} {
		d, ok := got[token]
		require.True(t, ok, "missing size token %s", token)
		if token == "orig" {
			assert.Equal(t, origID, d.ObjectID)
			assert.Equal(t, "media/photos/p1--orig.jpg", d.Path)
			continue
		}
		assert.Equal(t, "media/photos/p1--"+token+".jpg", d.Path)

		// each derivative must be a readable, correctly sized JPEG
		id, err := storage.ResolveName(context.Background(), entities.PhotoFilename("p1", token))
		require.NoError(t, err)
		img, err := jpeg.Decode(bytes.NewReader(storage.objects[id]))
		require.NoError(t, err)
		assert.Equal(t, d.Width, img.Bounds().Dx())
		assert.Equal(t, d.Height, img.Bounds().Dy())
	}

	// aspect ratio preserved: 2000x1000 at width 128 is 128x64
	assert.Equal(t, 64, got["128"].Height)
	assert.Equal(t, 4, storage.puts)
}

func TestProcessNeverUpscales(t *testing.T) {
	rec := sourcePhoto("p2", 100, 80)
	storage := newFakeBlob()
	storage.add(rec.Filename, "image/jpeg", jpegBytes(t, 100, 80))
	photos := newFakePhotos(rec)

	w := testWorker(storage, photos)
	require.NoError(t, w.process(context.Background(), "p2"))

	got := photos.records["p2"].Derivatives
	require.Len(t, got, 1)
	assert.Contains(t, got, entities.SizeOriginal)
	assert.Equal(t, 0, storage.puts)
}

func TestProcessPartialSizeFailureKeepsSiblings(t *testing.T) {
	rec := sourcePhoto("p3", 2000, 1000)
	storage := newFakeBlob()
	storage.add(rec.Filename, "image/jpeg", jpegBytes(t, 2000, 1000))
	storage.failPut["p3--640.jpg"] = errors.New("write timeout")
	photos := newFakePhotos(rec)

	w := testWorker(storage, photos)
	err := w.process(context.Background(), "p3")

	// the job is retried whole rather than committing a partial map
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 0, photos.setCalls)
	assert.Empty(t, photos.records["p3"].Derivatives)

	// but the three healthy sizes were still produced and stored
	for _, token := range []string{"128", "256", "1024"} {
		_, err := storage.ResolveName(context.Background(), entities.PhotoFilename("p3", token))
		assert.NoError(t, err, "size %s should have been stored", token)
	}
	assert.Equal(t, 3, storage.puts)
}

func TestProcessAllSizesFailingIsTransient(t *testing.T) {
	rec := sourcePhoto("p4", 2000, 1000)
	storage := newFakeBlob()
	storage.add(rec.Filename, "image/jpeg", jpegBytes(t, 2000, 1000))
	for _, token := range []string{"128", "256", "640", "1024"} {
		storage.failPut[entities.PhotoFilename("p4", token)] = errors.New("store down")
	}
	photos := newFakePhotos(rec)

	w := testWorker(storage, photos)
	err := w.process(context.Background(), "p4")

	require.Error(t, err)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 0, photos.setCalls)
}

func TestProcessMalformedSourceIsPermanent(t *testing.T) {
	rec := sourcePhoto("p5", 2000, 1000)
	storage := newFakeBlob()
	storage.add(rec.Filename, "image/jpeg", []byte("definitely not a jpeg"))
	photos := newFakePhotos(rec)

	w := testWorker(storage, photos)
	err := w.process(context.Background(), "p5")

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 0, storage.puts)
	assert.Empty(t, photos.records["p5"].Derivatives)
}

func TestProcessMissingRecordIsPermanent(t *testing.T) {
	storage := newFakeBlob()
	photos := newFakePhotos()

	w := testWorker(storage, photos)
	err := w.process(context.Background(), "gone")

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 0, storage.puts)
}

func TestProcessMissingSourceObjectIsPermanent(t *testing.T) {
	rec := sourcePhoto("p6", 2000, 1000)
	storage := newFakeBlob() // record exists, object does not
	photos := newFakePhotos(rec)

	w := testWorker(storage, photos)
	err := w.process(context.Background(), "p6")

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestProcessOversizedSourceIsPermanent(t *testing.T) {
	rec := sourcePhoto("p7", 2000, 1000)
	storage := newFakeBlob()
	storage.add(rec.Filename, "image/jpeg", jpegBytes(t, 2000, 1000))
	photos := newFakePhotos(rec)

	w := NewWorker(nil, config.PhotoWorkerConfig{
		Sizes:          []int{128},
		MaxSourceBytes: 16, // way below any real JPEG
	}, storage, photos)
	err := w.process(context.Background(), "p7")

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestProcessMetadataUpdateFailureIsTransient(t *testing.T) {
	rec := sourcePhoto("p8", 500, 400)
	storage := newFakeBlob()
	storage.add(rec.Filename, "image/jpeg", jpegBytes(t, 500, 400))
	photos := newFakePhotos(rec)
	photos.failSet = errors.New("db unavailable")

	w := testWorker(storage, photos)
	err := w.process(context.Background(), "p8")

	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestProcessRedeliveryIsIdempotent(t *testing.T) {
	rec := sourcePhoto("p9", 2000, 1000)
	storage := newFakeBlob()
	storage.add(rec.Filename, "image/jpeg", jpegBytes(t, 2000, 1000))
	photos := newFakePhotos(rec)

	w := testWorker(storage, photos)
	require.NoError(t, w.process(context.Background(), "p9"))
	first := photos.records["p9"].Derivatives

	// broker redelivers the same job after a fully successful run
	require.NoError(t, w.process(context.Background(), "p9"))
	second := photos.records["p9"].Derivatives

	require.Len(t, second, len(first))
	for token := range first {
		assert.Contains(t, second, token)
	}
	// the rerun minted fresh objects; last write wins on the record
	assert.Equal(t, 2, photos.setCalls)
}

func TestLockPhotoSerializesSameID(t *testing.T) {
	w := testWorker(newFakeBlob(), newFakePhotos())

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := w.lockPhoto("same")
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	assert.Empty(t, w.locks, "lock table should drain")
}
