package alerts

import (
	"sort"
	"time"

	"github.com/praetor-sec/praetor/internal/errors"
	"github.com/praetor-sec/praetor/internal/types"
)

// timeRanges maps the accepted range tokens to durations.
var timeRanges = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// ActorCount is one entry in a top-actors ranking.
type ActorCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Statistics aggregates alerts over one time range.
type Statistics struct {
	TimeRange         string         `json:"time_range"`
	Total             int            `json:"total"`
	Active            int            `json:"active"`
	Critical          int            `json:"critical"`
	Resolved          int            `json:"resolved"`
	BySeverity        map[string]int `json:"by_severity"`
	ByType            map[string]int `json:"by_type"`
	ByStatus          map[string]int `json:"by_status"`
	TopIPs            []ActorCount   `json:"top_ips"`
	TopUsers          []ActorCount   `json:"top_users"`
	AvgResolutionTime time.Duration  `json:"avg_resolution_time"`
	TrendPercent      float64        `json:"trend_percent"`
}

// Dashboard is the condensed operational view.
type Dashboard struct {
	ActiveAlerts   int                   `json:"active_alerts"`
	CriticalAlerts int                   `json:"critical_alerts"`
	Last24h        *Statistics           `json:"last_24h"`
	RecentAlerts   []types.SecurityAlert `json:"recent_alerts"`
}

// ComputeStatistics aggregates alerts whose first occurrence falls in the
// given range token (1h, 24h, 7d or 30d).
func (s *Service) ComputeStatistics(rangeToken string) (*Statistics, error) {
	window, ok := timeRanges[rangeToken]
	if !ok {
		return nil, errors.Newf(errors.ErrInvalidInput, "unknown time range %q, expected 1h, 24h, 7d or 30d", rangeToken)
	}

	now := time.Now().UTC()
	alerts, err := s.store.ListAlertsSince(now.Add(-window))
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "listing alerts for statistics", err)
	}

	stats := &Statistics{
		TimeRange:  rangeToken,
		Total:      len(alerts),
		BySeverity: make(map[string]int),
		ByType:     make(map[string]int),
		ByStatus:   make(map[string]int),
	}

	ipCounts := make(map[string]int)
	userCounts := make(map[string]int)
	var resolutionTotal time.Duration
	resolvedWithTime := 0

	for i := range alerts {
		a := &alerts[i]
		stats.BySeverity[a.Severity.String()]++
		stats.ByType[string(a.Type)]++
		stats.ByStatus[string(a.Status)]++

		if !a.Status.Terminal() {
			stats.Active++
		}
		if a.Severity == types.SeverityCritical {
			stats.Critical++
		}
		if a.Status == types.StatusResolved {
			stats.Resolved++
			if a.Investigation.ResolvedAt != nil {
				resolutionTotal += a.Investigation.ResolvedAt.Sub(a.FirstOccurrence)
				resolvedWithTime++
			}
		}
		if a.Actor.IP != "" {
			ipCounts[a.Actor.IP]++
		}
		if a.Actor.UserID != "" {
			userCounts[a.Actor.UserID]++
		} else if a.Actor.Username != "" {
			userCounts[a.Actor.Username]++
		}
	}

	if resolvedWithTime > 0 {
		stats.AvgResolutionTime = resolutionTotal / time.Duration(resolvedWithTime)
	}
	stats.TopIPs = topN(ipCounts, 5)
	stats.TopUsers = topN(userCounts, 5)

	trend, err := s.trend(now)
	if err != nil {
		return nil, err
	}
	stats.TrendPercent = trend
	return stats, nil
}

// trend compares the alert count of the most recent hour against the hour
// before it. A previous hour with no alerts yields 0, not a division error.
func (s *Service) trend(now time.Time) (float64, error) {
	recent, err := s.store.CountAlertsBetween(now.Add(-time.Hour), now)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "counting recent alerts", err)
	}
	previous, err := s.store.CountAlertsBetween(now.Add(-2*time.Hour), now.Add(-time.Hour))
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "counting previous alerts", err)
	}
	if previous == 0 {
		return 0, nil
	}
	return float64(recent-previous) / float64(previous) * 100, nil
}

// ComputeDashboard builds the condensed operational view.
func (s *Service) ComputeDashboard() (*Dashboard, error) {
	active, err := s.store.ActiveAlertCount()
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "counting active alerts", err)
	}
	critical, err := s.store.CriticalAlertCount()
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "counting critical alerts", err)
	}
	last24h, err := s.ComputeStatistics("24h")
	if err != nil {
		return nil, err
	}

	recent, err := s.store.ListAlertsSince(time.Now().UTC().Add(-24 * time.Hour))
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "listing recent alerts", err)
	}
	if len(recent) > 10 {
		recent = recent[:10]
	}

	return &Dashboard{
		ActiveAlerts:   active,
		CriticalAlerts: critical,
		Last24h:        last24h,
		RecentAlerts:   recent,
	}, nil
}

// topN ranks a count map and returns its n largest entries. Ties break on
// the value string for deterministic output.
func topN(counts map[string]int, n int) []ActorCount {
	ranked := make([]ActorCount, 0, len(counts))
	for value, count := range counts {
		ranked = append(ranked, ActorCount{Value: value, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Value < ranked[j].Value
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
