// Package config loads the explicit configuration passed to every component.
//
// Values are layered: built-in defaults, then an optional TOML file, then the
// process environment (after an optional .env file has been loaded into it).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
)

type OpenAIConfig struct {
	APIKey         string   `toml:"api_key"`
	BaseURL        string   `toml:"base_url"`
	ChatModel      string   `toml:"chat_model"`
	EmbeddingModel string   `toml:"embedding_model"`
	MaxRetries     int      `toml:"max_retries"`
	Timeout        Duration `toml:"timeout"`
}

type AgentConfig struct {
	MaxIterations int  `toml:"max_iterations"`
	Verbose       bool `toml:"verbose"`
}

type SearchConfig struct {
	Region          string   `toml:"region"`
	MaxResults      int      `toml:"max_results"`
	WikipediaLang   string   `toml:"wikipedia_lang"`
	WikipediaTopK   int      `toml:"wikipedia_top_k"`
	MaxDocChars     int      `toml:"max_doc_chars"`
	Timeout         Duration `toml:"timeout"`
	DuckDuckGoURL   string   `toml:"duckduckgo_url"`
	WikipediaAPIURL string   `toml:"wikipedia_api_url"`
}

type IndexConfig struct {
	URL          string   `toml:"url"`
	Classes      []string `toml:"classes"`
	ChunkSize    int      `toml:"chunk_size"`
	ChunkOverlap int      `toml:"chunk_overlap"`
	TopK         int      `toml:"top_k"`
	Store        string   `toml:"store"`
	Table        string   `toml:"table"`
	Collection   string   `toml:"collection"`
	Reindex      bool     `toml:"reindex"`
	BatchSize    int      `toml:"batch_size"`
	Concurrency  int      `toml:"concurrency"`
}

type AWSConfig struct {
	ParamPrefix string `toml:"param_prefix"`
}

// PromptConfig holds the fixed inputs of both entry points.
type PromptConfig struct {
	Persona     string `toml:"persona"`
	Request     string `toml:"request"`
	TravelQuery string `toml:"travel_query"`
}

type Config struct {
	OpenAI  OpenAIConfig `toml:"openai"`
	Agent   AgentConfig  `toml:"agent"`
	Search  SearchConfig `toml:"search"`
	Index   IndexConfig  `toml:"index"`
	AWS     AWSConfig    `toml:"aws"`
	Prompts PromptConfig `toml:"prompts"`
	Debug   bool         `toml:"debug"`
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// Load builds a Config. A missing TOML file or .env file is not an error;
// a malformed one is.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg.applyEnvOverrides(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("TRAVELPLAN_CHAT_MODEL", &c.OpenAI.ChatModel)
	str("TRAVELPLAN_EMBEDDING_MODEL", &c.OpenAI.EmbeddingModel)
	str("TRAVELPLAN_STORE", &c.Index.Store)
	str("TRAVELPLAN_TABLE", &c.Index.Table)
	str("TRAVELPLAN_PARAM_PREFIX", &c.AWS.ParamPrefix)

	if v, ok := lookup("TRAVELPLAN_DEBUG"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Debug = b
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OpenAI.ChatModel) == "" {
		return errors.New("config: openai.chat_model must not be empty")
	}
	if c.Agent.MaxIterations <= 0 {
		return errors.New("config: agent.max_iterations must be positive")
	}
	if c.Index.ChunkSize <= 0 {
		return errors.New("config: index.chunk_size must be positive")
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("config: index.chunk_overlap must be in [0, %d)", c.Index.ChunkSize)
	}
	if c.Index.TopK <= 0 {
		return errors.New("config: index.top_k must be positive")
	}
	if strings.TrimSpace(c.Index.URL) == "" {
		return errors.New("config: index.url must not be empty")
	}
	if len(c.Index.Classes) == 0 {
		return errors.New("config: index.classes must name at least one CSS class")
	}
	switch c.Index.Store {
	case StoreMemory:
	case StoreDynamoDB:
		if strings.TrimSpace(c.Index.Table) == "" {
			return errors.New("config: index.table is required for the dynamodb store")
		}
	default:
		return fmt.Errorf("config: unknown index.store %q", c.Index.Store)
	}
	return nil
}
