package client

import (
	"context"
)

// Image is one encoded image attached to a vision request
type Image struct {
	Data     []byte
	MIMEType string
}

// VisionClient sends one prompt with an ordered list of images to a
// multimodal model and returns the model's raw text reply.
type VisionClient interface {
	Query(ctx context.Context, model, prompt string, images []Image) (string, error)
}
