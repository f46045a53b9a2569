// internal/services/stats_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/participadf/ouvidoria/internal/utils"
)

const (
	statsSaveInterval = 30 * time.Second
	statsKeepDays     = 31
	statsKeepMonths   = 12
)

// UsageRecorder receives one entry per generator call.
type UsageRecorder interface {
	RecordUsage(tokens int)
}

// StatusCounter counts stored manifestations by status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// UsageStats is generator usage, persisted across restarts.
type UsageStats struct {
	TodayRequests int            `json:"today_requests"`
	MonthlyTokens int            `json:"monthly_tokens"`
	DailyStats    map[string]int `json:"daily_stats"`
	MonthlyStats  map[string]int `json:"monthly_stats"`
	LastUpdated   time.Time      `json:"last_updated"`
}

// ServiceStats is the /api/stats payload.
type ServiceStats struct {
	Usage                  UsageStats       `json:"usage"`
	ManifestationsByStatus map[string]int64 `json:"manifestations_by_status"`
}

// StatsService tracks generator usage per day and month and reports intake volume.
type StatsService struct {
	statsFile string
	counter   StatusCounter
	logger    *utils.Logger
	now       func() time.Time

	mutex        sync.Mutex
	stats        *UsageStats
	isDirty      bool
	lastSaveTime time.Time
}

// NewStatsService loads usage from statsFile if present. An empty path keeps
// usage in memory only.
func NewStatsService(statsFile string, counter StatusCounter, logger *utils.Logger) *StatsService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	s := &StatsService{
		statsFile: statsFile,
		counter:   counter,
		logger:    logger,
		now:       time.Now,
	}
	s.stats = s.load()
	return s
}

func newUsageStats(now time.Time) *UsageStats {
	return &UsageStats{
		DailyStats:   make(map[string]int),
		MonthlyStats: make(map[string]int),
		LastUpdated:  now,
	}
}

func (s *StatsService) load() *UsageStats {
	now := s.now()
	if s.statsFile == "" {
		return newUsageStats(now)
	}
	data, err := os.ReadFile(s.statsFile)
	if errors.Is(err, os.ErrNotExist) {
		return newUsageStats(now)
	}
	var stats UsageStats
	if err == nil {
		err = json.Unmarshal(data, &stats)
	}
	if err != nil {
		s.logger.Warn("usage stats unreadable, starting fresh", map[string]interface{}{
			"file":  s.statsFile,
			"error": err.Error(),
		})
		return newUsageStats(now)
	}
	if stats.DailyStats == nil {
		stats.DailyStats = make(map[string]int)
	}
	if stats.MonthlyStats == nil {
		stats.MonthlyStats = make(map[string]int)
	}
	return &stats
}

// rollover resets the current-period counters when the day or month changed. Caller holds mutex.
func (s *StatsService) rollover(now time.Time) {
	last := s.stats.LastUpdated
	if now.Format("2006-01-02") != last.Format("2006-01-02") {
		s.stats.TodayRequests = 0
		s.isDirty = true
	}
	if now.Format("2006-01") != last.Format("2006-01") {
		s.stats.MonthlyTokens = 0
		s.isDirty = true
	}
	s.stats.LastUpdated = now
}

// RecordUsage counts one generator call.
func (s *StatsService) RecordUsage(tokens int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	s.rollover(now)

	s.stats.TodayRequests++
	s.stats.MonthlyTokens += tokens
	s.stats.DailyStats[now.Format("2006-01-02")]++
	s.stats.MonthlyStats[now.Format("2006-01")] += tokens
	s.prune(now)
	s.isDirty = true

	if now.Sub(s.lastSaveTime) >= statsSaveInterval {
		if err := s.saveLocked(now); err != nil {
			s.logger.Warn("failed to save usage stats", map[string]interface{}{"error": err.Error()})
		}
	}
}

// prune keeps the last statsKeepDays days and statsKeepMonths months. Caller holds mutex.
func (s *StatsService) prune(now time.Time) {
	oldestDay := now.AddDate(0, 0, -statsKeepDays).Format("2006-01-02")
	for day := range s.stats.DailyStats {
		if day < oldestDay {
			delete(s.stats.DailyStats, day)
		}
	}
	oldestMonth := now.AddDate(0, -statsKeepMonths, 0).Format("2006-01")
	for month := range s.stats.MonthlyStats {
		if month < oldestMonth {
			delete(s.stats.MonthlyStats, month)
		}
	}
}

// Usage returns a copy of the current usage.
func (s *StatsService) Usage() UsageStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.rollover(s.now())
	out := *s.stats
	out.DailyStats = maps.Clone(s.stats.DailyStats)
	out.MonthlyStats = maps.Clone(s.stats.MonthlyStats)
	return out
}

// Snapshot combines usage with the manifestation counts from the store.
func (s *StatsService) Snapshot(ctx context.Context) (*ServiceStats, error) {
	out := &ServiceStats{Usage: s.Usage(), ManifestationsByStatus: map[string]int64{}}
	if s.counter == nil {
		return out, nil
	}
	counts, err := s.counter.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out.ManifestationsByStatus = counts
	return out, nil
}

// Flush writes pending usage to disk.
func (s *StatsService) Flush() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.isDirty {
		return nil
	}
	return s.saveLocked(s.now())
}

func (s *StatsService) saveLocked(now time.Time) error {
	s.lastSaveTime = now
	if s.statsFile == "" {
		s.isDirty = false
		return nil
	}

	data, err := json.MarshalIndent(s.stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize stats: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.statsFile), 0755); err != nil {
		return fmt.Errorf("failed to create stats dir: %w", err)
	}

	tempFile := s.statsFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp stats file: %w", err)
	}
	if err := os.Rename(tempFile, s.statsFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to replace stats file: %w", err)
	}
	s.isDirty = false
	return nil
}
