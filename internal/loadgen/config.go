// Package loadgen drives a running traderscore server with synthetic traders
// and checks that what comes back is consistent.
package loadgen

import (
	"time"

	"github.com/okian/traderscore/internal/domain/model"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL   string        // Base URL of the service
	Traders   int           // Number of traders to generate
	BatchSize int           // Traders per POST /v1/validate/batch
	Workers   int           // Number of concurrent submitters
	Timeout   time.Duration // HTTP request timeout
	Seed      uint64        // Generator seed; equal seeds give equal traders
}

// Archetype is the behavior a synthetic trader imitates.
type Archetype string

// Generated archetypes.
const (
	ArchetypeSteady  Archetype = "steady"
	ArchetypeGambler Archetype = "gambler"
	ArchetypePumper  Archetype = "pumper"
)

// Stats holds run statistics.
type Stats struct {
	TradersGenerated int
	BatchesSubmitted int
	BatchesFailed    int
	TradersValidated int
	TraderErrors     int
	TradersDropped   int
	RankingsFetched  int
	TradersChecked   int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}

type batchResponse struct {
	RunID   string                   `json:"run_id"`
	Results []model.ValidationResult `json:"results"`
	Errors  []struct {
		Username string `json:"username"`
		Error    string `json:"error"`
	} `json:"errors"`
	Dropped int `json:"dropped"`
}

type rankingsResponse struct {
	Count    int                   `json:"count"`
	Rankings []model.RankingResult `json:"rankings"`
}
