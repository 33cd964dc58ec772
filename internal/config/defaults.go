package config

import "time"

const (
	DefaultConfigFile = "travelplan.toml"
	DefaultEnvFile    = ".env"
)

func Default() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			BaseURL:        "https://api.openai.com/v1",
			ChatModel:      "gpt-3.5-turbo",
			EmbeddingModel: "text-embedding-ada-002",
			MaxRetries:     0,
			Timeout:        Duration{60 * time.Second},
		},
		Agent: AgentConfig{
			MaxIterations: 5,
			Verbose:       true,
		},
		Search: SearchConfig{
			Region:          "wt-wt",
			MaxResults:      5,
			WikipediaLang:   "en",
			WikipediaTopK:   3,
			MaxDocChars:     4000,
			Timeout:         Duration{15 * time.Second},
			DuckDuckGoURL:   "https://lite.duckduckgo.com/lite/",
			WikipediaAPIURL: "",
		},
		Index: IndexConfig{
			URL:          "https://www.dicasdeviagem.com/inglaterra/",
			Classes:      []string{"postcontentwrap", "pagetitleloading"},
			ChunkSize:    1000,
			ChunkOverlap: 200,
			TopK:         4,
			Store:        StoreMemory,
			Collection:   "travel-guide",
			Reindex:      true,
			BatchSize:    64,
			Concurrency:  4,
		},
		Prompts: PromptConfig{
			Persona:     "You are a poetic assistant, skilled in explaining complex programming concepts with creative flair.",
			Request:     "Compose a text that explains the concept of recursion in programming.",
			TravelQuery: "I am travelling to London in August 2024. Put together a travel itinerary for me with events happening during the trip and the price of a flight from São Paulo to London.",
		},
	}
}
