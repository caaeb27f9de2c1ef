package keeper

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const defaultScanInterval = 30 * time.Second

// Scanner periodically settles every due position. Settlements are paced by
// a token bucket so a backlog does not starve the node mutex.
type Scanner struct {
	keeper   *Keeper
	interval time.Duration
	limiter  *rate.Limiter
}

// NewScanner builds a scanner. perSecond <= 0 disables pacing.
func NewScanner(k *Keeper, interval time.Duration, perSecond float64) *Scanner {
	if interval <= 0 {
		interval = defaultScanInterval
	}
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Scanner{keeper: k, interval: interval, limiter: rate.NewLimiter(limit, burst)}
}

// Run scans immediately and then on every tick until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.keeper.logger.Info("scanner started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
			s.keeper.logger.Error("scan failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			s.keeper.logger.Info("scanner stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Scan settles the positions currently due and returns their outcomes.
func (s *Scanner) Scan(ctx context.Context) ([]Outcome, error) {
	started := time.Now()
	ids, err := s.keeper.node.DuePositions()
	if err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			s.keeper.metrics.ObserveScan(len(ids), time.Since(started))
			return outcomes, err
		}
		outcomes = append(outcomes, s.keeper.Settle(SourceScan, id))
	}
	s.keeper.metrics.ObserveScan(len(ids), time.Since(started))
	return outcomes, nil
}
