package config

// Default model table. The friendly names are what clients send as
// selectedModel; values are OpenRouter backend identifiers.
var defaultModels = map[string]string{
	"Arce-Large":            "arcee-ai/trinity-large-preview:free",
	"Solar-Pro-3":           "upstage/solar-pro-3:free",
	"LFM-2.5-1.2B-Thinking": "liquid/lfm-2.5-1.2b-thinking:free",
}

// Default ordered candidate list for the "auto" selector.
var defaultAutoModels = []string{
	"upstage/solar-pro-3:free",
	"arcee-ai/trinity-large-preview:free",
	"liquid/lfm-2.5-1.2b-thinking:free",
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kaiwa/data/db/kaiwa.db"
	}
	if cfg.Storage.FilesPath == "" {
		cfg.Storage.FilesPath = "/usr/local/var/kaiwa/data/files"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.LLM.Models == nil {
		cfg.LLM.Models = defaultModels
	}
	if cfg.LLM.AutoModels == nil {
		cfg.LLM.AutoModels = defaultAutoModels
	}
	if cfg.LLM.SummaryModel == "" {
		cfg.LLM.SummaryModel = "google/gemini-2.0-flash-lite-001"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.LLM.BaseURL
	}
	if cfg.Embedding.Models == nil {
		cfg.Embedding.Models = []string{"text-embedding-3-small"}
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.WebSearch.BaseURL == "" {
		cfg.WebSearch.BaseURL = "https://api.tavily.com"
	}
	if cfg.WebSearch.MaxResults == 0 {
		cfg.WebSearch.MaxResults = 5
	}
	if cfg.Chat.HistoryLimit == 0 {
		cfg.Chat.HistoryLimit = 10
	}
	if cfg.Chat.SummarizeAfter == 0 {
		cfg.Chat.SummarizeAfter = 10
	}
	if cfg.Chat.TitleLength == 0 {
		cfg.Chat.TitleLength = 30
	}
	if cfg.Chat.Retrieval.CandidatePool == 0 {
		cfg.Chat.Retrieval.CandidatePool = 50
	}
	if cfg.Chat.Retrieval.Limit == 0 {
		cfg.Chat.Retrieval.Limit = 3
	}
	if cfg.Chat.Retrieval.MinScore == 0 {
		cfg.Chat.Retrieval.MinScore = 0.35
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1000
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 200
	}
	if cfg.Ingest.MaxUploadBytes == 0 {
		cfg.Ingest.MaxUploadBytes = 10 * 1024 * 1024
	}
}
