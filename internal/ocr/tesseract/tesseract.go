// Package tesseract adapts the gosseract client to the ocr.Engine
// contract. Two engines are typically wired per run: one with the main
// Hebrew traineddata and one with the Rashi-script model.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/jackzampolin/dafmap/internal/geom"
	"github.com/jackzampolin/dafmap/internal/ocr"
)

// Config controls the Tesseract invocation.
type Config struct {
	// Language selects the traineddata model, e.g. "heb" or "heb_rashi".
	Language string
	// TessdataPrefix overrides the traineddata directory when set.
	TessdataPrefix string
	// DPI is passed as the user_defined_dpi hint so scanned pages
	// extracted without density metadata segment correctly. Zero keeps
	// the engine default.
	DPI int
}

// DefaultConfig returns the settings for the main Hebrew script.
func DefaultConfig() Config {
	return Config{Language: "heb", DPI: 350}
}

// Engine runs Tesseract through gosseract. A fresh client is created per
// call; gosseract clients are not safe for reuse across goroutines.
type Engine struct {
	cfg           Config
	clientFactory func() *gosseract.Client
}

// New returns an Engine with the given config, filling in defaults.
func New(cfg Config) *Engine {
	if cfg.Language == "" {
		cfg.Language = DefaultConfig().Language
	}
	return &Engine{cfg: cfg, clientFactory: gosseract.NewClient}
}

// Layout implements ocr.Engine. Word boxes are grouped on their
// block/paragraph/line numbering into line and block regions, the Go
// counterpart of Tesseract's TSV level rows.
func (e *Engine) Layout(ctx context.Context, img []byte) ([]ocr.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := e.clientFactory()
	defer c.Close()

	if err := e.configure(c, img); err != nil {
		return nil, err
	}
	boxes, err := c.GetBoundingBoxesVerbose()
	if err != nil {
		return nil, fmt.Errorf("layout boxes: %w", err)
	}
	return groupLayout(wordsFromVerbose(boxes)), nil
}

// Words implements ocr.Engine for crop-local word geometry.
func (e *Engine) Words(ctx context.Context, img []byte) ([]ocr.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := e.clientFactory()
	defer c.Close()

	if err := e.configure(c, img); err != nil {
		return nil, err
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("word boxes: %w", err)
	}

	out := make([]ocr.Region, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		out = append(out, ocr.Region{
			Level: ocr.LevelWord,
			BBox:  geom.BBox{X: b.Box.Min.X, Y: b.Box.Min.Y, W: b.Box.Dx(), H: b.Box.Dy()},
			Text:  text,
			Conf:  b.Confidence,
		})
	}
	return out, nil
}

// Text implements ocr.Engine, returning trimmed plain text for a crop.
func (e *Engine) Text(ctx context.Context, img []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := e.clientFactory()
	defer c.Close()

	if err := e.configure(c, img); err != nil {
		return "", err
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (e *Engine) configure(c *gosseract.Client, img []byte) error {
	if e.cfg.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.cfg.TessdataPrefix); err != nil {
			return fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(e.cfg.Language); err != nil {
		return fmt.Errorf("set language %q: %w", e.cfg.Language, err)
	}
	if e.cfg.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(e.cfg.DPI)); err != nil {
			return fmt.Errorf("set dpi: %w", err)
		}
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return fmt.Errorf("set image: %w", err)
	}
	return nil
}

func wordsFromVerbose(boxes []gosseract.BoundingBox) []word {
	out := make([]word, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		out = append(out, word{
			bbox:  geom.BBox{X: b.Box.Min.X, Y: b.Box.Min.Y, W: b.Box.Dx(), H: b.Box.Dy()},
			text:  text,
			conf:  b.Confidence,
			block: b.BlockNum,
			par:   b.ParNum,
			line:  b.LineNum,
		})
	}
	return out
}

var _ ocr.Engine = (*Engine)(nil)
