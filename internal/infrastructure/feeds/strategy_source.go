package feeds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"truckpress/internal/config"
	"truckpress/internal/domain"
	"truckpress/internal/ports"
	"truckpress/internal/scanner"
)

// StrategySource implements ports.FeedSource via registered scanner
// strategies. Sources are fetched in bounded-concurrency batches with an
// inter-batch delay; a failing source yields an empty result and a warning,
// never an error for its siblings.
type StrategySource struct {
	registry    *scanner.Registry
	sources     []config.SourceConfig
	concurrency int
	batchDelay  time.Duration
	log         zerolog.Logger
}

var _ ports.FeedSource = (*StrategySource)(nil)

// NewStrategySource wires the scanner registry with config-defined sources.
func NewStrategySource(reg *scanner.Registry, cfg config.FeedsConfig, log zerolog.Logger) *StrategySource {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &StrategySource{
		registry:    reg,
		sources:     cfg.Sources,
		concurrency: concurrency,
		batchDelay:  cfg.BatchDelay,
		log:         log,
	}
}

// Fetch scans every enabled source and aggregates their items.
func (s *StrategySource) Fetch(ctx context.Context) ([]domain.RawItem, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	enabled := make([]config.SourceConfig, 0, len(s.sources))
	for _, src := range s.sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}
	s.log.Debug().Int("sources", len(enabled)).Msg("fetching feeds")

	var aggregated []domain.RawItem
	for start := 0; start < len(enabled); start += s.concurrency {
		end := start + s.concurrency
		if end > len(enabled) {
			end = len(enabled)
		}
		batch := enabled[start:end]

		results := make([][]domain.RawItem, len(batch))
		var wg sync.WaitGroup
		for i, src := range batch {
			wg.Add(1)
			go func(i int, src config.SourceConfig) {
				defer wg.Done()
				results[i] = s.scanSource(ctx, src)
			}(i, src)
		}
		wg.Wait()

		for _, items := range results {
			aggregated = append(aggregated, items...)
		}

		if end < len(enabled) && s.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return aggregated, ctx.Err()
			case <-time.After(s.batchDelay):
			}
		}
	}

	s.log.Debug().Int("total_items", len(aggregated)).Msg("feed fetch done")
	return aggregated, nil
}

// scanSource isolates one source: any failure is logged and swallowed.
func (s *StrategySource) scanSource(ctx context.Context, src config.SourceConfig) []domain.RawItem {
	strategy, err := s.registry.Resolve(src.Scanner)
	if err != nil {
		s.log.Warn().Str("source", src.Name).Err(err).Msg("source skipped")
		return nil
	}

	items, err := strategy.Scan(ctx, scanner.Request{
		SourceName: src.Name,
		URL:        src.URL,
		Priority:   src.Priority,
		Options:    src.Options,
	})
	if err != nil {
		s.log.Warn().Str("source", src.Name).Err(err).Msg("source fetch failed")
		return nil
	}

	for i := range items {
		if items[i].Source == "" {
			items[i].Source = src.Name
		}
	}
	s.log.Debug().Str("source", src.Name).Int("count", len(items)).Msg("source produced items")
	return items
}
