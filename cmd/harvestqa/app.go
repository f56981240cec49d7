package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/cestlavie/harvestqa/internal/cache"
	"github.com/cestlavie/harvestqa/internal/composer"
	"github.com/cestlavie/harvestqa/internal/config"
	"github.com/cestlavie/harvestqa/internal/dataset"
	"github.com/cestlavie/harvestqa/internal/engine"
	"github.com/cestlavie/harvestqa/internal/evaluation"
	"github.com/cestlavie/harvestqa/internal/generator"
	"github.com/cestlavie/harvestqa/internal/keyword"
	"github.com/cestlavie/harvestqa/internal/lang"
	"github.com/cestlavie/harvestqa/internal/pipeline"
	"github.com/cestlavie/harvestqa/internal/postprocess"
	"github.com/cestlavie/harvestqa/internal/resultlog"
	"github.com/cestlavie/harvestqa/internal/retrieval"
	"github.com/cestlavie/harvestqa/internal/storage"
)

// app is everything a command needs to answer questions.
type app struct {
	cfg     config.Config
	store   *storage.Store
	cache   cache.Client
	results resultlog.Log
	matcher keyword.Matcher
	session *pipeline.Session
	harness *evaluation.Harness
}

type appOptions struct {
	// indexMode overrides retrieval.index_mode when non-empty.
	indexMode retrieval.Mode
}

// openStore opens the SQLite database in the data directory.
func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// openResultLog returns the configured FewShotLog backend wrapped in a
// short-lived read cache.
func openResultLog(cfg config.Config, store *storage.Store) resultlog.Log {
	var base resultlog.Log
	switch cfg.Eval.LogBackend {
	case "sqlite":
		base = resultlog.NewSQLiteLog(store)
	default:
		base = resultlog.NewCSVLog(cfg.ResultLogPath())
	}
	if cfg.Eval.CacheTTL <= 0 {
		return base
	}
	return resultlog.NewCached(base, cfg.Eval.CacheTTL)
}

// openCache connects to Redis when configured and falls back to an
// in-process cache otherwise.
func openCache(ctx context.Context, cc config.CacheConfig) cache.Client {
	if cc.RedisAddr != "" {
		c, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cc.RedisAddr,
			Password: cc.RedisPassword,
			DB:       cc.RedisDB,
		})
		if err == nil {
			return c
		}
		zap.L().Warn("redis unavailable, using in-memory embedding cache", zap.String("addr", cc.RedisAddr), zap.Error(err))
	}
	return cache.NewMemoryClient(cc.MaxEntries)
}

func chatModel(cfg config.Config) string {
	if cfg.Backend.Chat == engine.BackendAnthropic {
		return cfg.Anthropic.Model
	}
	return cfg.Ollama.ChatModel
}

func translateModel(cfg config.Config) string {
	if cfg.Backend.Chat == engine.BackendAnthropic {
		return cfg.Anthropic.Model
	}
	return cfg.TranslateModel()
}

// newApp wires backends, storage and the session. The dataset is loaded
// and its index provided before it returns.
func newApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	eng, chat, err := engine.Detect(engine.DetectConfig{
		OllamaBaseURL:      cfg.Ollama.BaseURL,
		ChatBackend:        cfg.Backend.Chat,
		AnthropicAPIKey:    cfg.Anthropic.APIKey,
		AnthropicBaseURL:   cfg.Anthropic.BaseURL,
		AnthropicMaxTokens: cfg.Anthropic.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting inference engine: %w", err)
	}

	models := []string{cfg.Ollama.EmbedModel}
	if cfg.Backend.Chat != engine.BackendAnthropic {
		models = append(models, cfg.Ollama.ChatModel)
		if cfg.Answer.Translate {
			models = append(models, cfg.TranslateModel())
		}
	}
	if err := engine.EnsureReady(ctx, eng, models, os.Stderr); err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		store:   store,
		cache:   openCache(ctx, cfg.Cache),
		results: openResultLog(cfg, store),
		matcher: keyword.Default(),
	}
	a.matcher.RowCap = cfg.Retrieval.RowCap

	tag, err := lang.Parse(cfg.Answer.Language)
	if err != nil {
		a.Close()
		return nil, err
	}
	order, err := resultlog.ParseOrder(cfg.Eval.FewShotOrder)
	if err != nil {
		a.Close()
		return nil, err
	}

	comp := composer.New(composer.Options{
		TopK:         cfg.Retrieval.TopK,
		FewShotLimit: cfg.Eval.FewShotLimit,
		FewShotOrder: order,
		FailuresOnly: cfg.Eval.FailuresOnly,
		Language:     tag,
		Fallback:     cfg.Answer.Fallback,
		MaxTableRows: cfg.Composer.MaxTableRows,
		Matcher:      &a.matcher,
	}, a.results)

	var post *postprocess.Stage
	if cfg.Answer.Translate {
		post = &postprocess.Stage{
			Detector:   postprocess.LatinDetector(),
			Translator: postprocess.NewLLMTranslator(chat, translateModel(cfg)),
			Target:     tag,
		}
	}
	gen := generator.New(chat, generator.Options{
		Model:       chatModel(cfg),
		Temperature: engine.Temperature(cfg.Answer.Temperature),
		Timeout:     cfg.Answer.Timeout,
		Post:        post,
	})

	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel,
		retrieval.WithCache(a.cache, cfg.Cache.TTL),
		retrieval.WithBatchSize(cfg.Retrieval.BatchSize),
	)

	mode := opts.indexMode
	if mode == "" {
		if mode, err = retrieval.ParseMode(cfg.Retrieval.IndexMode); err != nil {
			a.Close()
			return nil, err
		}
	}

	schema := dataset.DefaultSchema()
	if cfg.Dataset.RootKey != "" {
		schema.RootKey = cfg.Dataset.RootKey
	}

	a.session, err = pipeline.Open(ctx, pipeline.Options{
		DatasetPath:  cfg.DatasetPath(),
		Schema:       schema,
		IndexDir:     cfg.IndexDir(),
		IndexMode:    mode,
		Embedder:     embedder,
		Composer:     comp,
		Generator:    gen,
		Interactions: store,
		OnProgress:   embedProgress(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.harness = evaluation.New(a.session, a.results, evaluation.Options{
		Threshold:     cfg.Eval.Threshold,
		RatePerMinute: cfg.Eval.RatePerMinute,
	})
	return a, nil
}

// Close releases the cache and database.
func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			zap.L().Warn("closing cache", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			zap.L().Warn("closing storage", zap.Error(err))
		}
	}
}
