package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flagplane/flagplane/internal/featureflags"
)

// CheckJob loads every stored flag and verifies it still satisfies the
// invariants the API enforces on write.
type CheckJob struct {
	config CheckConfig
	repo   featureflags.Repository
	logger zerolog.Logger

	mu      sync.RWMutex
	metrics CheckMetrics
}

// CheckMetrics tracks check job statistics.
type CheckMetrics struct {
	TotalRuns       int64
	FailedRuns      int64
	InvalidFlags    int64
	LastRunAt       time.Time
	LastRunDuration time.Duration
}

// CheckResult contains the result of a check run.
type CheckResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	TotalFlags int
	Valid      int
	Invalid    int
	Issues     []CheckIssue

	// Enabled counts flags that evaluate to on, per environment.
	Enabled map[string]int
}

// CheckIssue describes a stored flag that breaks an invariant.
type CheckIssue struct {
	FlagID string
	Key    string
	Reason string
}

// CheckJobConfig holds configuration for creating a CheckJob.
type CheckJobConfig struct {
	Config     CheckConfig
	Repository featureflags.Repository
	Logger     zerolog.Logger
}

// NewCheckJob creates a new consistency check job.
func NewCheckJob(cfg CheckJobConfig) *CheckJob {
	return &CheckJob{
		config: cfg.Config.withDefaults(),
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}
}

// Run executes one consistency check over the whole store.
func (j *CheckJob) Run(ctx context.Context) (*CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	startTime := time.Now()
	result := &CheckResult{
		StartTime: startTime,
		Enabled:   make(map[string]int, len(j.config.Environments)),
	}

	flags, err := j.repo.GetAll(ctx)
	if err != nil {
		j.recordRun(result, err)
		return nil, fmt.Errorf("loading flags: %w", err)
	}
	result.TotalFlags = len(flags)

	j.logger.Info().
		Int("total_flags", result.TotalFlags).
		Int("concurrency", j.config.Concurrency).
		Msg("starting flag store check")

	flagsChan := make(chan *featureflags.FeatureFlag, len(flags))
	resultsChan := make(chan flagResult, len(flags))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.checkWorker(ctx, flagsChan, resultsChan)
		}()
	}

	for _, f := range flags {
		flagsChan <- f
	}
	close(flagsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for fr := range resultsChan {
		if len(fr.issues) == 0 {
			result.Valid++
		} else {
			result.Invalid++
			result.Issues = append(result.Issues, fr.issues...)
		}
		for _, env := range fr.enabledIn {
			result.Enabled[env]++
		}
	}
	result.Issues = append(result.Issues, duplicateKeyIssues(flags)...)

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	j.recordRun(result, ctx.Err())

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("valid", result.Valid).
		Int("invalid", result.Invalid).
		Int("issues", len(result.Issues)).
		Msg("flag store check completed")

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

type flagResult struct {
	issues    []CheckIssue
	enabledIn []string
}

func (j *CheckJob) checkWorker(ctx context.Context, flags <-chan *featureflags.FeatureFlag, results chan<- flagResult) {
	for f := range flags {
		select {
		case <-ctx.Done():
			return
		default:
			results <- j.checkFlag(f)
		}
	}
}

func (j *CheckJob) checkFlag(f *featureflags.FeatureFlag) flagResult {
	var fr flagResult

	if err := featureflags.Validate(f); err != nil {
		var verr *featureflags.ValidationError
		if errors.As(err, &verr) {
			for _, fe := range verr.Errors {
				fr.issues = append(fr.issues, CheckIssue{FlagID: f.ID, Key: f.Key, Reason: fe.Message})
			}
		} else {
			fr.issues = append(fr.issues, CheckIssue{FlagID: f.ID, Key: f.Key, Reason: err.Error()})
		}
	}
	if f.UpdatedAt.Before(f.CreatedAt) {
		fr.issues = append(fr.issues, CheckIssue{FlagID: f.ID, Key: f.Key, Reason: "updatedAt precedes createdAt"})
	}

	for _, env := range j.config.Environments {
		if featureflags.IsEnabled(f, env) {
			fr.enabledIn = append(fr.enabledIn, env)
		}
	}
	return fr
}

func duplicateKeyIssues(flags []*featureflags.FeatureFlag) []CheckIssue {
	seen := make(map[string]string, len(flags))
	var issues []CheckIssue
	for _, f := range flags {
		k := featureflags.NormalizeKey(f.Key)
		if first, ok := seen[k]; ok {
			issues = append(issues, CheckIssue{
				FlagID: f.ID,
				Key:    f.Key,
				Reason: "key also used by " + first,
			})
			continue
		}
		seen[k] = f.ID
	}
	return issues
}

func (j *CheckJob) recordRun(result *CheckResult, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.metrics.TotalRuns++
	if err != nil {
		j.metrics.FailedRuns++
	}
	j.metrics.InvalidFlags = int64(result.Invalid)
	j.metrics.LastRunAt = time.Now()
	j.metrics.LastRunDuration = result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *CheckJob) GetMetrics() CheckMetrics {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.metrics
}

// Schedule runs the check every interval until ctx is done. Failed runs are
// logged and the schedule continues.
func (j *CheckJob) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error().Err(err).Msg("scheduled flag store check failed")
			}
		}
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *CheckJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":        m.TotalRuns,
		"failed_runs":       m.FailedRuns,
		"invalid_flags":     m.InvalidFlags,
		"last_run_at":       m.LastRunAt,
		"last_run_duration": m.LastRunDuration.String(),
	}
}
