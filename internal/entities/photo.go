package entities

import (
	"fmt"
	"strconv"
	"time"
)

// SizeOriginal is the pseudo-size token that always points at the unmodified
// source object, regardless of its actual pixel dimensions.
const SizeOriginal = "orig"

// Derivative points at one stored size variant of a photo.
type Derivative struct {
	ObjectID string `json:"object_id"`
	Path     string `json:"path"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Derivatives maps a size token ("orig" or a decimal width) to the stored
// variant. The map is either absent (not yet processed) or complete for every
// configured width below the source width — readers never see a partial map.
type Derivatives map[string]Derivative

type Photo struct {
	ID               string      `json:"id"`
	LodgingID        string      `json:"lodging_id"`
	UserID           string      `json:"user_id"`
	Caption          *string     `json:"caption,omitempty"`
	ContentType      string      `json:"content_type"`
	Filename         string      `json:"filename"` // canonical original object name
	Size             int64       `json:"size"`
	Width            int         `json:"width"`
	Height           int         `json:"height"`
	Derivatives      Derivatives `json:"derivatives,omitempty"`
	CreatedTimestamp time.Time   `json:"created_timestamp"`
	UpdatedTimestamp time.Time   `json:"updated_timestamp"`
}

// Processed reports whether the derivative worker has committed its map.
func (p Photo) Processed() bool { return len(p.Derivatives) > 0 }

// SizeToken renders a target width as a derivative map key.
func SizeToken(width int) string { return strconv.Itoa(width) }

// PhotoFilename builds the object name for one size variant of a photo,
// e.g. "f81d4fae--256.jpg" or "f81d4fae--orig.jpg".
func PhotoFilename(photoID, size string) string {
	return fmt.Sprintf("%s--%s.jpg", photoID, size)
}

// MediaPath is the public access path readers use to fetch a stored variant.
func MediaPath(filename string) string {
	return "media/photos/" + filename
}
