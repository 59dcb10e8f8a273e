// Command plan-builder matches an optimized narration transcript against an
// indexed scene corpus and writes the ordered edit plan.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	progressbar "github.com/schollz/progressbar/v2"

	"github.com/framewright/match-cutter/matching"
	"github.com/framewright/match-cutter/matching/encoder"
	"github.com/framewright/match-cutter/matching/provider"
)

func main() {
	_ = godotenv.Load()

	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY (or pass -api-key)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	phrases, err := matching.LoadPhrases(cfg.TranscriptPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if len(phrases) == 0 {
		fmt.Fprintln(os.Stderr, "transcript has no phrases")
		os.Exit(2)
	}

	corpus, err := matching.LoadCorpus(cfg.CacheDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if cfg.ExpandTags {
		if added := corpus.ExpandTags(); added > 0 {
			fmt.Fprintf(os.Stderr, "expanded tags onto %d neighbor scenes\n", added)
		}
	}
	fmt.Fprintf(os.Stderr, "corpus: %d scenes, %d tagged, embeddings=%v\n",
		len(corpus.Scenes), corpus.TaggedCount(), corpus.Embeddings != nil)

	textEmb, err := encoder.Open(encoder.Options{
		ModelPath:         cfg.TextModelPath,
		TokenizerPath:     cfg.TokenizerPath,
		SharedLibraryPath: cfg.OrtLibraryPath,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer textEmb.Close()

	var visualEmb matching.Embedder
	if cfg.VisualModelPath != "" {
		m, err := encoder.Open(encoder.Options{
			ModelPath:         cfg.VisualModelPath,
			TokenizerPath:     cfg.TokenizerPath,
			SharedLibraryPath: cfg.OrtLibraryPath,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
		defer m.Close()
		visualEmb = m
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer closeStore()

	analyzer, err := provider.NewOpenAIAnalyzer(apiKey, cfg.Model)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	director := matching.NewDirector(analyzer, store, corpus.KnownEntities(), matching.DirectorOptions{
		WindowSize: cfg.WindowSize,
		Lookback:   cfg.Lookback,
	})

	windows := (len(phrases) + cfg.WindowSize - 1) / cfg.WindowSize
	fmt.Fprintf(os.Stderr, "analyzing %d phrases in %d windows\n", len(phrases), windows)
	var bar *progressbar.ProgressBar
	if cfg.Progress {
		bar = progressbar.New(windows)
	}
	intents := director.AnalyzeAllFunc(ctx, phrases, func(int) {
		if bar != nil {
			_ = bar.Add(1)
		}
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	fmt.Fprintf(os.Stderr, "analysis done: %d cache hits, %d fallback windows\n",
		director.CacheHits(), director.FallbackWindows())

	if err := ctx.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	matcher, err := matching.NewMatcher(corpus, textEmb, visualEmb, matching.MatcherOptions{
		MaxUsage:   cfg.MaxUsage,
		Cooldown:   cfg.Cooldown,
		VisualTopK: cfg.VisualTopK,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if cfg.Progress {
		bar = progressbar.New(len(phrases))
	}
	plan, err := matching.BuildPlanFunc(phrases, intents, matcher, func(int) {
		if bar != nil {
			_ = bar.Add(1)
		}
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	if err := matching.WritePlan(cfg.OutPath, plan); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	s := plan.Stats
	fmt.Fprintf(os.Stdout, "run_id=%s plan=%s phrases=%d matched=%d unmatched=%d unique_scenes=%d max_usage=%d cooldown_violations=%d\n",
		plan.RunID, cfg.OutPath, s.TotalPhrases, s.MatchedPhrases, s.UnmatchedCount, s.UniqueScenes, s.MaxSceneUsage, s.CooldownViolations)
}

// openStore picks the analysis cache backend: Redis when an address is
// given, otherwise one JSON file per response on disk. Both get an
// in-process layer in front.
func openStore(cfg Config) (matching.Store, func(), error) {
	if cfg.RedisAddr != "" {
		rs, err := matching.ConnectRedis(cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return matching.NewLayeredStore(rs), func() { _ = rs.Close() }, nil
	}

	ds, err := matching.NewDiskStore(cfg.LLMCacheDir)
	if err != nil {
		return nil, nil, err
	}
	return matching.NewLayeredStore(ds), func() {}, nil
}
