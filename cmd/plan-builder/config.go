package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
)

type Config struct {
	CacheDir       string
	TranscriptPath string
	OutPath        string

	Model  string
	APIKey string

	WindowSize int
	Lookback   int
	MaxUsage   int
	Cooldown   int
	VisualTopK int

	ExpandTags bool

	LLMCacheDir string
	RedisAddr   string
	RedisPrefix string

	TextModelPath   string
	VisualModelPath string
	TokenizerPath   string
	OrtLibraryPath  string

	Progress bool
}

func (c Config) Validate() error {
	if c.CacheDir == "" {
		return errors.New("missing -cache-dir")
	}
	if c.Model == "" {
		return errors.New("missing -model")
	}
	if c.WindowSize <= 0 {
		return errors.New("window-size must be > 0")
	}
	if c.Lookback < 0 {
		return errors.New("lookback must be >= 0")
	}
	if c.MaxUsage <= 0 {
		return errors.New("max-usage must be > 0")
	}
	if c.Cooldown <= 0 {
		return errors.New("cooldown must be > 0")
	}
	if c.VisualTopK <= 0 {
		return errors.New("top-k must be > 0")
	}
	if c.TextModelPath == "" {
		return errors.New("missing -text-model")
	}
	if c.TokenizerPath == "" {
		return errors.New("missing -tokenizer")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		CacheDir:   filepath.FromSlash("analysis_cache"),
		Model:      "gpt-5-mini",
		WindowSize: 5,
		Lookback:   2,
		MaxUsage:   3,
		Cooldown:   20,
		VisualTopK: 50,
		ExpandTags: true,
		Progress:   true,
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "Directory holding scene_index.json, frame analysis and embeddings")
	fs.StringVar(&cfg.TranscriptPath, "transcript", "", "Path to transcript_optimized.json (default: <cache-dir>/transcript_optimized.json)")
	fs.StringVar(&cfg.OutPath, "out", "", "Output path for edit_plan.json (default: <cache-dir>/edit_plan.json)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "OpenAI model for script analysis (e.g. gpt-5-mini)")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")
	fs.IntVar(&cfg.WindowSize, "window-size", cfg.WindowSize, "Phrases analyzed per request")
	fs.IntVar(&cfg.Lookback, "lookback", cfg.Lookback, "Preceding phrases quoted for continuity")
	fs.IntVar(&cfg.MaxUsage, "max-usage", cfg.MaxUsage, "Max times one scene may appear in the plan")
	fs.IntVar(&cfg.Cooldown, "cooldown", cfg.Cooldown, "Min phrase distance before a scene repeats")
	fs.IntVar(&cfg.VisualTopK, "top-k", cfg.VisualTopK, "Visually similar scenes re-ranked per phrase")
	fs.BoolVar(&cfg.ExpandTags, "expand-tags", cfg.ExpandTags, "Copy content tags to untagged neighbor scenes before matching")
	fs.StringVar(&cfg.LLMCacheDir, "llm-cache-dir", "", "Directory for analysis response cache (default: <cache-dir>/llm_cache)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "Optional Redis address for the analysis cache (e.g. localhost:6379); disk cache when empty")
	fs.StringVar(&cfg.RedisPrefix, "redis-prefix", "matchcutter", "Key prefix for Redis cache entries")
	fs.StringVar(&cfg.TextModelPath, "text-model", "", "Path to the text embedding .onnx model")
	fs.StringVar(&cfg.VisualModelPath, "visual-model", "", "Optional path to the visual-text embedding .onnx model (enables visual-first matching)")
	fs.StringVar(&cfg.TokenizerPath, "tokenizer", "", "Path to tokenizer.json shared by the embedding models")
	fs.StringVar(&cfg.OrtLibraryPath, "ort-lib", "", "Optional path to the onnxruntime shared library")
	fs.BoolVar(&cfg.Progress, "progress", cfg.Progress, "Show progress bars")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.CacheDir = filepath.Clean(cfg.CacheDir)
	if cfg.TranscriptPath == "" {
		cfg.TranscriptPath = filepath.Join(cfg.CacheDir, "transcript_optimized.json")
	}
	if cfg.OutPath == "" {
		cfg.OutPath = filepath.Join(cfg.CacheDir, "edit_plan.json")
	}
	if cfg.LLMCacheDir == "" {
		cfg.LLMCacheDir = filepath.Join(cfg.CacheDir, "llm_cache")
	}
	return cfg, nil
}
