package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// DecodeError marks image bytes that will never decode, no matter how often
// the job is retried.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("processor: decode: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// Load images, apply actions on them and then encode
type ImageProcessor struct {
	img image.Image
}

// Load decodes the source according to its sniffed content type.
func (i *ImageProcessor) Load(r io.Reader, contentType string) error {
	switch contentType {
	case "image/png":
		return i.LoadPNG(r)
	case "image/jpeg":
		return i.LoadJPEG(r)
	case "image/webp":
		return i.LoadWEBP(r)
	default:
		return &DecodeError{Err: fmt.Errorf("unsupported content type: %s", contentType)}
	}
}

func (i *ImageProcessor) LoadPNG(r io.Reader) error {
	img, err := png.Decode(r)
	if err != nil {
		return &DecodeError{Err: err}
	}
	i.img = img
	return nil
}

func (i *ImageProcessor) LoadJPEG(r io.Reader) error {
	img, err := jpeg.Decode(r)
	if err != nil {
		return &DecodeError{Err: err}
	}
	i.img = img
	return nil
}

func (i *ImageProcessor) LoadWEBP(r io.Reader) error {
	img, err := webp.Decode(r)
	if err != nil {
		return &DecodeError{Err: err}
	}
	i.img = img
	return nil
}

// RenderWidth produces one derivative: the source resized to the target
// width with the aspect ratio preserved, encoded as JPEG. Returns the
// encoded bytes and the derivative's pixel dimensions.
func (i *ImageProcessor) RenderWidth(width int) ([]byte, int, int, error) {
	img := imaging.Resize(i.img, width, 0, imaging.Lanczos)

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, 0, 0, fmt.Errorf("processor: encode %dpx: %w", width, err)
	}

	b := img.Bounds().Size()
	return buf.Bytes(), b.X, b.Y, nil
}

func (i *ImageProcessor) GetBounds() (int, int) {
	return i.img.Bounds().Size().X, i.img.Bounds().Size().Y
}
