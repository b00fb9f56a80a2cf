package model

import "time"

// ================ Config ================

type ExtractModelConfig struct {
	Model       string  `envconfig:"EXTRACT_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"EXTRACT_MAX_TOKENS" default:"1024"`
	Temperature float32 `envconfig:"EXTRACT_TEMPERATURE" default:"0"`
}

type GenerateModelConfig struct {
	Model       string  `envconfig:"GENERATE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"GENERATE_MAX_TOKENS" default:"4096"`
	Temperature float32 `envconfig:"GENERATE_TEMPERATURE" default:"0"`
}

type OpenDataConfig struct {
	BaseURL   string `envconfig:"OPEN_DATA_BASE_URL" default:"https://ckan0.cf.opendata.inter.prod-toronto.ca"`
	PageLimit int    `envconfig:"OPEN_DATA_PAGE_LIMIT" default:"50"`
	BulkLimit int    `envconfig:"OPEN_DATA_BULK_LIMIT" default:"500"`
	Retries   uint64 `envconfig:"OPEN_DATA_RETRIES" default:"3"`
}

type CacheConfig struct {
	File       string        `envconfig:"CACHE_FILE" default:".cache/geocode.json"`
	GeocodeTTL time.Duration `envconfig:"GEOCODE_TTL" default:"24h"`
}

type RetrievalConfig struct {
	ProximityLimit    int           `envconfig:"PROXIMITY_LIMIT" default:"6"`
	SearchLimit       int           `envconfig:"SEARCH_LIMIT" default:"6"`
	CapabilityTimeout time.Duration `envconfig:"CAPABILITY_TIMEOUT" default:"20s"`
}
