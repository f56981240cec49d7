package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/cestlavie/harvestqa/internal/lang"
	"github.com/cestlavie/harvestqa/internal/qaerr"
	"github.com/cestlavie/harvestqa/internal/resultlog"
	"github.com/cestlavie/harvestqa/internal/retrieval"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Backend   BackendConfig
	Anthropic AnthropicConfig
	Storage   StorageConfig
	Dataset   DatasetConfig
	Retrieval RetrievalConfig
	Composer  ComposerConfig
	Answer    AnswerConfig
	Eval      EvalConfig
	Cache     CacheConfig
	Reload    ReloadConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type OllamaConfig struct {
	BaseURL        string
	ChatModel      string
	EmbedModel     string
	TranslateModel string
}

type BackendConfig struct {
	Chat string
}

type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

type StorageConfig struct {
	DataDir string
}

type DatasetConfig struct {
	Path    string
	RootKey string
}

type RetrievalConfig struct {
	TopK      int
	RowCap    int
	IndexMode string
	BatchSize int
}

type ComposerConfig struct {
	MaxTableRows int
}

type AnswerConfig struct {
	Language    string
	Fallback    string
	Timeout     time.Duration
	Temperature float64
	Translate   bool
}

type EvalConfig struct {
	Threshold     float64
	LogBackend    string
	LogPath       string
	FewShotLimit  int
	FewShotOrder  string
	FailuresOnly  bool
	RatePerMinute float64
	CacheTTL      time.Duration
}

type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	MaxEntries    int
}

type ReloadConfig struct {
	Debounce time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4100},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3",
			EmbedModel: "nomic-embed-text",
		},
		Backend: BackendConfig{Chat: "ollama"},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 1024,
		},
		Storage:   StorageConfig{DataDir: defaultDataDir()},
		Dataset:   DatasetConfig{RootKey: "Sheet1"},
		Retrieval: RetrievalConfig{TopK: 5, RowCap: 10000, IndexMode: "auto", BatchSize: 32},
		Composer:  ComposerConfig{MaxTableRows: 200},
		Answer: AnswerConfig{
			Language:    "zh-TW",
			Fallback:    "無相關資訊",
			Timeout:     2 * time.Minute,
			Temperature: 0.2,
			Translate:   true,
		},
		Eval: EvalConfig{
			Threshold:    0.8,
			LogBackend:   "csv",
			FewShotLimit: 10,
			FewShotOrder: "recent",
			CacheTTL:     30 * time.Second,
		},
		Cache:  CacheConfig{TTL: 24 * time.Hour, MaxEntries: 10000},
		Reload: ReloadConfig{Debounce: time.Second},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "harvestqa-data"
		}
	}
	return filepath.Join(dir, "harvestqa")
}

// FilePath returns the TOML config file location:
// $XDG_CONFIG_HOME/harvestqa/config.toml.
func FilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "harvestqa", "config.toml")
}

// Load reads configuration in order: defaults, the TOML config file, a
// .env file in the working directory, then HARVESTQA_* environment
// variables. The result is validated.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	return loadFromPath(FilePath())
}

func loadFromPath(path string) (Config, error) {
	b, err := openFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations. Failures are
// *qaerr.ConfigError.
func (c Config) Validate() error {
	if c.Retrieval.TopK < 0 {
		return &qaerr.ConfigError{Key: "retrieval.top_k", Msg: fmt.Sprintf("must be >= 0, got %d", c.Retrieval.TopK)}
	}
	if c.Retrieval.RowCap <= 0 {
		return &qaerr.ConfigError{Key: "retrieval.row_cap", Msg: "must be positive"}
	}
	if _, err := retrieval.ParseMode(c.Retrieval.IndexMode); err != nil {
		return err
	}
	if c.Eval.Threshold < 0 || c.Eval.Threshold > 1 {
		return &qaerr.ConfigError{Key: "eval.threshold", Msg: fmt.Sprintf("must be within [0, 1], got %v", c.Eval.Threshold)}
	}
	if c.Eval.FewShotLimit < 0 {
		return &qaerr.ConfigError{Key: "eval.few_shot_limit", Msg: fmt.Sprintf("must be >= 0, got %d", c.Eval.FewShotLimit)}
	}
	if c.Composer.MaxTableRows < 0 {
		return &qaerr.ConfigError{Key: "composer.max_table_rows", Msg: fmt.Sprintf("must be >= 0, got %d", c.Composer.MaxTableRows)}
	}
	if c.Eval.RatePerMinute < 0 {
		return &qaerr.ConfigError{Key: "eval.rate_per_minute", Msg: "must be >= 0"}
	}
	if _, err := resultlog.ParseOrder(c.Eval.FewShotOrder); err != nil {
		return err
	}
	switch c.Eval.LogBackend {
	case "csv", "sqlite":
	default:
		return &qaerr.ConfigError{Key: "eval.log_backend", Msg: fmt.Sprintf("unknown backend %q (want csv or sqlite)", c.Eval.LogBackend)}
	}
	switch c.Backend.Chat {
	case "ollama":
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return &qaerr.ConfigError{Key: "anthropic.api_key", Msg: "required when backend.chat is anthropic; set HARVESTQA_ANTHROPIC_API_KEY"}
		}
	default:
		return &qaerr.ConfigError{Key: "backend.chat", Msg: fmt.Sprintf("unknown backend %q (want ollama or anthropic)", c.Backend.Chat)}
	}
	if _, err := lang.Parse(c.Answer.Language); err != nil {
		return err
	}
	if c.Answer.Timeout <= 0 {
		return &qaerr.ConfigError{Key: "answer.timeout", Msg: "must be positive"}
	}
	return nil
}

// DatasetPath returns the dataset file, defaulting to data.json in the
// data directory.
func (c Config) DatasetPath() string {
	if c.Dataset.Path != "" {
		return c.Dataset.Path
	}
	return filepath.Join(c.Storage.DataDir, "data.json")
}

// IndexDir returns the directory holding the persisted index artifacts.
func (c Config) IndexDir() string {
	return filepath.Join(c.Storage.DataDir, "index")
}

// ResultLogPath returns the CSV result log location.
func (c Config) ResultLogPath() string {
	if c.Eval.LogPath != "" {
		return c.Eval.LogPath
	}
	return filepath.Join(c.Storage.DataDir, "test_results", "test_results.csv")
}

// TranslateModel returns the model used for translation, defaulting to the
// chat model.
func (c Config) TranslateModel() string {
	if c.Ollama.TranslateModel != "" {
		return c.Ollama.TranslateModel
	}
	return c.Ollama.ChatModel
}
