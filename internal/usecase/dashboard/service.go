package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/simaogato/opsdesk-backend/internal/domain"
	"github.com/simaogato/opsdesk-backend/internal/usecase/transition"
)

const summaryCacheKey = "summary"

// TypeSummary aggregates the records of one instrument type
type TypeSummary struct {
	Type     domain.InstrumentType
	Total    int
	ByStatus map[domain.Status]int
	Pending  int // records whose stage pipeline is not complete
}

// SummaryResult represents the dashboard tiles for the instrument workflow
type SummaryResult struct {
	Types       []TypeSummary
	Claimed     int
	GeneratedAt time.Time
}

// DashboardService handles dashboard-related operations
type DashboardService struct {
	InstrumentRepo domain.InstrumentRepository
	cache          *cache.Cache
	now            func() time.Time
}

// NewDashboardService creates a new DashboardService instance.
// Summaries are reused for ttl; a non-positive ttl disables caching.
func NewDashboardService(instrumentRepo domain.InstrumentRepository, ttl time.Duration) *DashboardService {
	s := &DashboardService{
		InstrumentRepo: instrumentRepo,
		now:            time.Now,
	}
	if ttl > 0 {
		s.cache = cache.New(ttl, 2*ttl)
	}
	return s
}

// GetSummary calculates record counts per type and status
// Logic:
//   - Counts come straight from the repository grouping
//   - Pending: records whose status still awaits a stage (see transition.PendingStage)
//   - Claimed: records with claim_from_bank set
func (s *DashboardService) GetSummary(ctx context.Context) (*SummaryResult, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(summaryCacheKey); ok {
			return cached.(*SummaryResult), nil
		}
	}

	counts, err := s.InstrumentRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count instruments by status: %w", err)
	}

	claimed, err := s.InstrumentRepo.CountClaimed(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count claimed instruments: %w", err)
	}

	byType := map[domain.InstrumentType]*TypeSummary{
		domain.InstrumentTypeDD: {Type: domain.InstrumentTypeDD, ByStatus: make(map[domain.Status]int)},
		domain.InstrumentTypeBG: {Type: domain.InstrumentTypeBG, ByStatus: make(map[domain.Status]int)},
	}
	for _, row := range counts {
		summary, ok := byType[row.Type]
		if !ok {
			continue
		}
		summary.ByStatus[row.Status] += row.Count
		summary.Total += row.Count
		if _, pending := transition.PendingStage(row.Type, row.Status); pending {
			summary.Pending += row.Count
		}
	}

	result := &SummaryResult{
		Types:       []TypeSummary{*byType[domain.InstrumentTypeDD], *byType[domain.InstrumentTypeBG]},
		Claimed:     claimed,
		GeneratedAt: s.now(),
	}

	if s.cache != nil {
		s.cache.SetDefault(summaryCacheKey, result)
	}
	return result, nil
}

// Invalidate drops the cached summary so the next call recounts
func (s *DashboardService) Invalidate() {
	if s.cache != nil {
		s.cache.Delete(summaryCacheKey)
	}
}
