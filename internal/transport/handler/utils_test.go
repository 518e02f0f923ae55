package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitMediaName(t *testing.T) {
	tests := []struct {
		in      string
		photoID string
		size    string
		ok      bool
	}{
		{"abc--orig.jpg", "abc", "orig", true},
		{"abc--128.jpg", "abc", "128", true},
		{"f81d4fae-7dec-11d0-a765-00a0c91e6bf6--1024.jpg", "f81d4fae-7dec-11d0-a765-00a0c91e6bf6", "1024", true},
		{"abc--128.png", "", "", false},
		{"abc.jpg", "", "", false},
		{"--128.jpg", "", "", false},
		{"abc--.jpg", "", "", false},
	}

	for _, tt := range tests {
		photoID, size, ok := splitMediaName(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.photoID, photoID, tt.in)
		assert.Equal(t, tt.size, size, tt.in)
	}
}

func TestValidateMimeType(t *testing.T) {
	assert.NoError(t, validateMimeType("image/jpeg"))
	assert.NoError(t, validateMimeType("image/png"))
	assert.NoError(t, validateMimeType("image/webp"))
	assert.Error(t, validateMimeType("image/gif"))
	assert.Error(t, validateMimeType("application/pdf"))
}
