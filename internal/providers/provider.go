// Package providers wraps the external model services the pipeline calls:
// vision typeface classification of block crops, vision line recognition,
// and text embeddings.
package providers

import (
	"context"

	"github.com/jackzampolin/dafmap/internal/page"
)

// ScriptClassifier labels a block crop as main square type or Rashi
// commentary script.
type ScriptClassifier interface {
	// ClassifyScript returns the typeface of the text in the crop.
	ClassifyScript(ctx context.Context, crop []byte) (page.Script, error)

	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// LineRecognizer reads the text of a single line crop.
type LineRecognizer interface {
	// RecognizeLine returns the recognized text and a confidence in [0,1].
	RecognizeLine(ctx context.Context, crop []byte) (string, float64, error)

	// Name returns the provider identifier.
	Name() string
}

// Embedder turns a batch of strings into fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input, order preserved. Empty inputs
	// must not break batch alignment.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// Name returns the provider identifier.
	Name() string
}
