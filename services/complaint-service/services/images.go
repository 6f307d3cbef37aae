package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImageStore keeps resolution proof images outside the complaint document.
type ImageStore interface {
	PutObject(ctx context.Context, key, contentType string, body []byte) error
	GeneratePresignedPutURL(ctx context.Context, key, contentType string, expiry time.Duration) (string, map[string]string, error)
}

// PresignedUpload is handed to the dashboard so it can upload a proof image
// straight to the bucket and then reference Key in a status update.
type PresignedUpload struct {
	Key       string            `json:"key"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/heic": "heic",
}

func isDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// decodeDataURL parses a base64 data URL ("data:image/png;base64,....").
func decodeDataURL(s string) (string, []byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	contentType, encoding, _ := strings.Cut(header, ";")
	if encoding != "base64" {
		return "", nil, fmt.Errorf("data URL must be base64 encoded")
	}
	if _, ok := imageExtensions[contentType]; !ok {
		return "", nil, fmt.Errorf("unsupported image type %q", contentType)
	}
	body, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode image: %w", err)
	}
	if len(body) == 0 {
		return "", nil, fmt.Errorf("empty image")
	}
	return contentType, body, nil
}

func resolutionImageKey(complaintID, contentType string) string {
	ext, ok := imageExtensions[contentType]
	if !ok {
		ext = "bin"
	}
	return fmt.Sprintf("resolutions/%s/%s.%s", complaintID, uuid.NewString(), ext)
}
