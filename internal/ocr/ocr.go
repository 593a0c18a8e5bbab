// Package ocr defines the OCR provider contract consumed by layout
// extraction, line splitting, text recognition, and boundary cuts.
package ocr

import (
	"context"

	"github.com/jackzampolin/dafmap/internal/geom"
)

// Level identifies the layout hierarchy depth of a detected region,
// matching Tesseract's page iterator levels.
type Level int

const (
	LevelBlock Level = 2
	LevelLine  Level = 4
	LevelWord  Level = 5
)

// Region is one detected area of an image. Coordinates are local to the
// image that was submitted: page coordinates for full-page layout calls,
// crop coordinates for word and text calls.
type Region struct {
	Level Level
	BBox  geom.BBox
	Text  string
	Conf  float64

	// Numbering reconstructs the block/paragraph/line hierarchy for
	// layout regions; zero for word regions from crop calls.
	BlockNum int
	ParNum   int
	LineNum  int
	WordNum  int
}

// Engine is the OCR contract. Implementations need not be safe for
// concurrent use; the pipeline calls an engine sequentially.
type Engine interface {
	// Layout returns block- and line-level regions for a full page image,
	// with recognized text attached to line regions.
	Layout(ctx context.Context, img []byte) ([]Region, error)
	// Words returns word-level regions for an image crop in crop-local
	// coordinates. Empty-text detections are dropped.
	Words(ctx context.Context, img []byte) ([]Region, error)
	// Text returns the plain recognized text for an image crop.
	Text(ctx context.Context, img []byte) (string, error)
}
