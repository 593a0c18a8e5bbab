package config

import (
	"fmt"

	"github.com/jackzampolin/dafmap/internal/align"
	"github.com/jackzampolin/dafmap/internal/assign"
	"github.com/jackzampolin/dafmap/internal/cuts"
	"github.com/jackzampolin/dafmap/internal/layout"
	"github.com/jackzampolin/dafmap/internal/script"
	"github.com/jackzampolin/dafmap/internal/sefaria"
)

// Recognizer selections for the line-text fill pass.
const (
	RecognizerTesseract = "tesseract"
	RecognizerVLM       = "vlm"
)

// Config holds dafmap configuration.
// Loaded from: defaults, then config.yaml, then DAFMAP_* environment variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging" json:"logging"`
	Home      string          `mapstructure:"home" yaml:"home" json:"home"` // base directory, empty means ~/.dafmap
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers" json:"providers"`
	Sefaria   SefariaConfig   `mapstructure:"sefaria" yaml:"sefaria" json:"sefaria"`
	OCR       OCRConfig       `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Layout    LayoutConfig    `mapstructure:"layout" yaml:"layout" json:"layout"`
	Assign    AssignConfig    `mapstructure:"assign" yaml:"assign" json:"assign"`
	Align     AlignConfig     `mapstructure:"align" yaml:"align" json:"align"`
	Cuts      CutsConfig      `mapstructure:"cuts" yaml:"cuts" json:"cuts"`
	Split     SplitConfig     `mapstructure:"split" yaml:"split" json:"split"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host" json:"host"`
	Port int    `mapstructure:"port" yaml:"port" json:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format" json:"format"` // text, json
}

// ProvidersConfig groups model-provider settings.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai" yaml:"openai" json:"openai"`
}

// OpenAIConfig configures the OpenAI-backed classifier, recognizer and
// embedder.
type OpenAIConfig struct {
	APIKey            string  `mapstructure:"api_key" yaml:"api_key" json:"api_key"` // supports ${ENV_VAR} syntax
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Model             string  `mapstructure:"model" yaml:"model" json:"model"`             // vision model
	EmbedModel        string  `mapstructure:"embed_model" yaml:"embed_model" json:"embed_model"` // embedding model
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" json:"requests_per_second"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
}

// SefariaConfig configures the canonical-text client.
type SefariaConfig struct {
	BaseURL            string   `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	CommentaryPrefixes []string `mapstructure:"commentary_prefixes" yaml:"commentary_prefixes" json:"commentary_prefixes"`
}

// OCRConfig configures the Tesseract engines and the line-text source.
type OCRConfig struct {
	Language       string `mapstructure:"language" yaml:"language" json:"language"`             // main script traineddata
	RashiLanguage  string `mapstructure:"rashi_language" yaml:"rashi_language" json:"rashi_language"` // commentary script traineddata
	TessdataPrefix string `mapstructure:"tessdata_prefix" yaml:"tessdata_prefix" json:"tessdata_prefix"`
	DPI            int    `mapstructure:"dpi" yaml:"dpi" json:"dpi"`
	Recognizer     string `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"` // tesseract, vlm
}

// LayoutConfig groups layout-stage settings.
type LayoutConfig struct {
	Margin MarginConfig `mapstructure:"margin" yaml:"margin" json:"margin"`
}

// MarginConfig tunes the margin-artifact filter.
type MarginConfig struct {
	TopBandFrac   float64 `mapstructure:"top_band_frac" yaml:"top_band_frac" json:"top_band_frac"`
	MarginXFrac   float64 `mapstructure:"margin_x_frac" yaml:"margin_x_frac" json:"margin_x_frac"`
	MarginYFrac   float64 `mapstructure:"margin_y_frac" yaml:"margin_y_frac" json:"margin_y_frac"`
	SmallAreaFrac float64 `mapstructure:"small_area_frac" yaml:"small_area_frac" json:"small_area_frac"`
}

// AssignConfig tunes block-to-stream assignment.
type AssignConfig struct {
	PrefixSegments int     `mapstructure:"prefix_segments" yaml:"prefix_segments" json:"prefix_segments"`
	PrefixLines    int     `mapstructure:"prefix_lines" yaml:"prefix_lines" json:"prefix_lines"`
	MinScore       float64 `mapstructure:"min_score" yaml:"min_score" json:"min_score"`
}

// AlignConfig tunes segment alignment.
type AlignConfig struct {
	Strategy        string       `mapstructure:"strategy" yaml:"strategy" json:"strategy"` // lexical, embedding
	Lexical         WindowConfig `mapstructure:"lexical" yaml:"lexical" json:"lexical"`
	Embed           WindowConfig `mapstructure:"embed" yaml:"embed" json:"embed"`
	ShareBoundaries bool         `mapstructure:"share_boundaries" yaml:"share_boundaries" json:"share_boundaries"`
}

// WindowConfig bounds one alignment pass.
type WindowConfig struct {
	Window   int     `mapstructure:"window" yaml:"window" json:"window"`
	MinScore float64 `mapstructure:"min_score" yaml:"min_score" json:"min_score"`
}

// CutsConfig tunes boundary-cut refinement.
type CutsConfig struct {
	WordMatchThreshold float64 `mapstructure:"word_match_threshold" yaml:"word_match_threshold" json:"word_match_threshold"`
	CropPad            int     `mapstructure:"crop_pad" yaml:"crop_pad" json:"crop_pad"`
}

// SplitConfig tunes commentary line splitting.
type SplitConfig struct {
	CropPad   int    `mapstructure:"crop_pad" yaml:"crop_pad" json:"crop_pad"`
	Delimiter string `mapstructure:"delimiter" yaml:"delimiter" json:"delimiter"`
}

// DefaultConfig returns configuration with sensible defaults. Stage
// settings come from the stage packages so the file and the code cannot
// drift apart.
func DefaultConfig() *Config {
	margin := layout.DefaultMarginConfig()
	asn := assign.DefaultConfig()
	aln := align.DefaultConfig()
	cut := cuts.DefaultConfig()
	spl := script.DefaultSplitConfig()

	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				APIKey:            "${OPENAI_API_KEY}",
				Model:             "gpt-4o-mini",
				EmbedModel:        "text-embedding-3-small",
				RequestsPerSecond: 2.0,
				MaxRetries:        3,
			},
		},
		Sefaria: SefariaConfig{
			BaseURL:            sefaria.DefaultBaseURL,
			CommentaryPrefixes: append([]string(nil), sefaria.DefaultCommentaryPrefixes...),
		},
		OCR: OCRConfig{
			Language:      "heb",
			RashiLanguage: "heb_rashi",
			DPI:           350,
			Recognizer:    RecognizerTesseract,
		},
		Layout: LayoutConfig{
			Margin: MarginConfig{
				TopBandFrac:   margin.TopBandFrac,
				MarginXFrac:   margin.MarginXFrac,
				MarginYFrac:   margin.MarginYFrac,
				SmallAreaFrac: margin.SmallAreaFrac,
			},
		},
		Assign: AssignConfig{
			PrefixSegments: asn.PrefixSegments,
			PrefixLines:    asn.PrefixLines,
			MinScore:       asn.MinScore,
		},
		Align: AlignConfig{
			Strategy:        "lexical",
			Lexical:         WindowConfig{Window: aln.LexicalWindow, MinScore: aln.LexicalMinScore},
			Embed:           WindowConfig{Window: aln.EmbedWindow, MinScore: aln.EmbedMinScore},
			ShareBoundaries: aln.ShareBoundaries,
		},
		Cuts: CutsConfig{
			WordMatchThreshold: cut.WordMatchThreshold,
			CropPad:            cut.CropPad,
		},
		Split: SplitConfig{
			CropPad:   spl.CropPad,
			Delimiter: spl.Delimiter,
		},
	}
}

// DefaultStrategy returns the configured alignment strategy, falling back
// to lexical.
func (c *Config) DefaultStrategy() string {
	if c.Align.Strategy == "" {
		return "lexical"
	}
	return c.Align.Strategy
}

// UseVLMRecognizer reports whether line text should come from the vision
// model instead of the Tesseract engine.
func (c *Config) UseVLMRecognizer() bool {
	return c.OCR.Recognizer == RecognizerVLM
}
