package processor

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestLoadByContentType(t *testing.T) {
	p := &ImageProcessor{}
	require.NoError(t, p.Load(bytes.NewReader(encodeJPEG(t, 300, 200)), "image/jpeg"))
	w, h := p.GetBounds()
	assert.Equal(t, 300, w)
	assert.Equal(t, 200, h)

	require.NoError(t, p.Load(bytes.NewReader(encodePNG(t, 40, 60)), "image/png"))
	w, h = p.GetBounds()
	assert.Equal(t, 40, w)
	assert.Equal(t, 60, h)
}

func TestLoadUnsupportedType(t *testing.T) {
	p := &ImageProcessor{}
	err := p.Load(bytes.NewReader([]byte("GIF89a")), "image/gif")

	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestLoadMalformedBytes(t *testing.T) {
	p := &ImageProcessor{}
	err := p.LoadJPEG(bytes.NewReader([]byte("not an image")))

	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestRenderWidthPreservesAspectRatio(t *testing.T) {
	p := &ImageProcessor{}
	require.NoError(t, p.LoadJPEG(bytes.NewReader(encodeJPEG(t, 200, 100))))

	data, w, h, err := p.RenderWidth(128)
	require.NoError(t, err)
	assert.Equal(t, 128, w)
	assert.Equal(t, 64, h)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
}

func TestRenderWidthOddRatio(t *testing.T) {
	p := &ImageProcessor{}
	require.NoError(t, p.LoadJPEG(bytes.NewReader(encodeJPEG(t, 1000, 667))))

	_, w, h, err := p.RenderWidth(640)
	require.NoError(t, err)
	assert.Equal(t, 640, w)
	assert.Greater(t, h, 0)
	assert.Less(t, h, 667)
}
