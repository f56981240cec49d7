package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "HARVESTQA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "HARVESTQA_SERVER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "ollama.base_url", typ: kString, env: "HARVESTQA_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "HARVESTQA_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "HARVESTQA_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.translate_model", typ: kString, env: "HARVESTQA_OLLAMA_TRANSLATE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.TranslateModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.TranslateModel },
	},
	{
		key: "backend.chat", typ: kString, env: "HARVESTQA_BACKEND_CHAT",
		apply:   func(cfg *Config, v any) { cfg.Backend.Chat = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.Chat },
	},
	{
		key: "anthropic.api_key", typ: kString, env: "HARVESTQA_ANTHROPIC_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Anthropic.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.APIKey },
	},
	{
		key: "anthropic.base_url", typ: kString, env: "HARVESTQA_ANTHROPIC_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.BaseURL },
	},
	{
		key: "anthropic.model", typ: kString, env: "HARVESTQA_ANTHROPIC_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.Model },
	},
	{
		key: "anthropic.max_tokens", typ: kInt, env: "HARVESTQA_ANTHROPIC_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Anthropic.MaxTokens },
	},
	{
		key: "storage.data_dir", typ: kString, env: "HARVESTQA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "dataset.path", typ: kString, env: "HARVESTQA_DATASET_PATH",
		apply:   func(cfg *Config, v any) { cfg.Dataset.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Dataset.Path },
	},
	{
		key: "dataset.root_key", typ: kString, env: "HARVESTQA_DATASET_ROOT_KEY",
		apply:   func(cfg *Config, v any) { cfg.Dataset.RootKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Dataset.RootKey },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "HARVESTQA_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.row_cap", typ: kInt, env: "HARVESTQA_RETRIEVAL_ROW_CAP",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RowCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.RowCap },
	},
	{
		key: "retrieval.index_mode", typ: kString, env: "HARVESTQA_RETRIEVAL_INDEX_MODE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.IndexMode = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.IndexMode },
	},
	{
		key: "retrieval.batch_size", typ: kInt, env: "HARVESTQA_RETRIEVAL_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.BatchSize },
	},
	{
		key: "composer.max_table_rows", typ: kInt, env: "HARVESTQA_COMPOSER_MAX_TABLE_ROWS",
		apply:   func(cfg *Config, v any) { cfg.Composer.MaxTableRows = v.(int) },
		extract: func(cfg Config) any { return cfg.Composer.MaxTableRows },
	},
	{
		key: "answer.language", typ: kString, env: "HARVESTQA_ANSWER_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Answer.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Answer.Language },
	},
	{
		key: "answer.fallback", typ: kString, env: "HARVESTQA_ANSWER_FALLBACK",
		apply:   func(cfg *Config, v any) { cfg.Answer.Fallback = v.(string) },
		extract: func(cfg Config) any { return cfg.Answer.Fallback },
	},
	{
		key: "answer.timeout", typ: kDuration, env: "HARVESTQA_ANSWER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Answer.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Answer.Timeout },
	},
	{
		key: "answer.temperature", typ: kFloat, env: "HARVESTQA_ANSWER_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Answer.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Answer.Temperature },
	},
	{
		key: "answer.translate", typ: kBool, env: "HARVESTQA_ANSWER_TRANSLATE",
		apply:   func(cfg *Config, v any) { cfg.Answer.Translate = v.(bool) },
		extract: func(cfg Config) any { return cfg.Answer.Translate },
	},
	{
		key: "eval.threshold", typ: kFloat, env: "HARVESTQA_EVAL_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Eval.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Eval.Threshold },
	},
	{
		key: "eval.log_backend", typ: kString, env: "HARVESTQA_EVAL_LOG_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Eval.LogBackend = v.(string) },
		extract: func(cfg Config) any { return cfg.Eval.LogBackend },
	},
	{
		key: "eval.log_path", typ: kString, env: "HARVESTQA_EVAL_LOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Eval.LogPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Eval.LogPath },
	},
	{
		key: "eval.few_shot_limit", typ: kInt, env: "HARVESTQA_EVAL_FEW_SHOT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Eval.FewShotLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Eval.FewShotLimit },
	},
	{
		key: "eval.few_shot_order", typ: kString, env: "HARVESTQA_EVAL_FEW_SHOT_ORDER",
		apply:   func(cfg *Config, v any) { cfg.Eval.FewShotOrder = v.(string) },
		extract: func(cfg Config) any { return cfg.Eval.FewShotOrder },
	},
	{
		key: "eval.failures_only", typ: kBool, env: "HARVESTQA_EVAL_FAILURES_ONLY",
		apply:   func(cfg *Config, v any) { cfg.Eval.FailuresOnly = v.(bool) },
		extract: func(cfg Config) any { return cfg.Eval.FailuresOnly },
	},
	{
		key: "eval.rate_per_minute", typ: kFloat, env: "HARVESTQA_EVAL_RATE_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Eval.RatePerMinute = v.(float64) },
		extract: func(cfg Config) any { return cfg.Eval.RatePerMinute },
	},
	{
		key: "eval.cache_ttl", typ: kDuration, env: "HARVESTQA_EVAL_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Eval.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Eval.CacheTTL },
	},
	{
		key: "cache.redis_addr", typ: kString, env: "HARVESTQA_CACHE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisAddr },
	},
	{
		key: "cache.redis_password", typ: kString, env: "HARVESTQA_CACHE_REDIS_PASSWORD",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisPassword },
	},
	{
		key: "cache.redis_db", typ: kInt, env: "HARVESTQA_CACHE_REDIS_DB",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisDB = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.RedisDB },
	},
	{
		key: "cache.ttl", typ: kDuration, env: "HARVESTQA_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "cache.max_entries", typ: kInt, env: "HARVESTQA_CACHE_MAX_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.MaxEntries },
	},
	{
		key: "reload.debounce", typ: kDuration, env: "HARVESTQA_RELOAD_DEBOUNCE",
		apply:   func(cfg *Config, v any) { cfg.Reload.Debounce = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reload.Debounce },
	},
	{
		key: "log.level", typ: kString, env: "HARVESTQA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "HARVESTQA_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

// parseValue converts raw text into the Go value a keySpec's apply expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

// applyBackend copies persisted values into cfg. Secrets are only read from
// the environment.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
