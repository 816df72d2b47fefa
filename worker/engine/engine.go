// Package engine is the boundary to the speech-to-text backend.
package engine

import (
	"context"

	"audioTranscriber/api/models"
)

type Request struct {
	AudioPath string
	Language  string
	Model     string
}

type Transcript struct {
	Text     string
	Language string
	Segments []models.Segment
}

// Engine transcribes one audio file. Implementations must be safe for
// concurrent use.
type Engine interface {
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}
