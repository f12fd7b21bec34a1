package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all process-level configuration. It is built once in main
// and passed explicitly to the components that need it; nothing reads the
// environment after startup.
type Config struct {
	// ProjectID is the Google Cloud project hosting the BigQuery dataset.
	ProjectID string

	// DatasetID is the BigQuery dataset holding all rentdesk tables.
	DatasetID string

	// ImportBucket is the GCS bucket for archiving raw import text.
	// Empty disables archiving.
	ImportBucket string

	// GeminiModel is the model used for AI sender matching.
	GeminiModel string

	// MatchThreshold is the minimum confidence for an AI result to be
	// treated as a match. Below it the attempt goes to manual review.
	MatchThreshold float64

	// SuggestionFloor is the minimum confidence for an AI alternative to
	// be surfaced as a reviewer suggestion.
	SuggestionFloor float64

	// OracleTimeout bounds the outbound Gemini call.
	OracleTimeout time.Duration

	// NotionToken and NotionReviewDB configure the pending-review mirror.
	// Empty token disables the mirror.
	NotionToken    string
	NotionReviewDB string

	// APIToken is the bearer token required on API requests. Empty
	// disables authentication.
	APIToken string
}

// Load builds a Config from environment variables, applying defaults for
// everything except the project ID.
func Load() (*Config, error) {
	cfg := &Config{
		ProjectID:       os.Getenv("RENTDESK_PROJECT_ID"),
		DatasetID:       envOr("RENTDESK_DATASET", "rentdesk"),
		ImportBucket:    os.Getenv("RENTDESK_IMPORT_BUCKET"),
		GeminiModel:     envOr("RENTDESK_GEMINI_MODEL", "gemini-2.5-flash"),
		MatchThreshold:  0.85,
		SuggestionFloor: 0.5,
		OracleTimeout:   30 * time.Second,
		NotionToken:     os.Getenv("NOTION_TOKEN"),
		NotionReviewDB:  os.Getenv("NOTION_REVIEW_DB"),
		APIToken:        os.Getenv("RENTDESK_API_TOKEN"),
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("config.Load: RENTDESK_PROJECT_ID is required")
	}

	if v := os.Getenv("RENTDESK_MATCH_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config.Load: invalid RENTDESK_MATCH_THRESHOLD %q: %w", v, err)
		}
		cfg.MatchThreshold = f
	}

	if v := os.Getenv("RENTDESK_ORACLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config.Load: invalid RENTDESK_ORACLE_TIMEOUT %q: %w", v, err)
		}
		cfg.OracleTimeout = d
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
