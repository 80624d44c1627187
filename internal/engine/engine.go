// Package engine implements the Praetor detection engine. A scheduler runs a
// fixed set of threshold detectors over the audit log, deduplicates repeated
// findings, and hands new alerts to the alert service and the notifier.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/types"
)

// AlertSink receives alerts the detectors create. Implemented by the alert
// service, which assigns ids and initial lifecycle state.
type AlertSink interface {
	CreateAlert(alert *types.SecurityAlert) (*types.SecurityAlert, error)
}

// Notifier delivers an alert out-of-band. Dispatch failures never affect
// alert persistence.
type Notifier interface {
	Dispatch(ctx context.Context, alert *types.SecurityAlert) error
}

// Options configures the engine.
type Options struct {
	Interval time.Duration // tick interval, default 5m
	Window   time.Duration // detection lookback, default 1h
	DedupTTL time.Duration // dedup entry lifetime, default 1h
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Minute
	}
	if o.Window <= 0 {
		o.Window = time.Hour
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = time.Hour
	}
}

// Engine schedules the detectors. Thresholds are read fresh on every run so
// updates apply on the next cycle without a restart.
type Engine struct {
	audit    AuditQuery
	users    UserDirectory
	sink     AlertSink
	notifier Notifier
	dedup    *DedupCache
	opts     Options
	logger   zerolog.Logger

	mu         sync.RWMutex
	thresholds types.DetectionThresholds

	runs    atomic.Int64
	stopped atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a detection engine. notifier may be nil.
func New(audit AuditQuery, users UserDirectory, sink AlertSink, notifier Notifier, thresholds types.DetectionThresholds, opts Options, logger zerolog.Logger) *Engine {
	opts.applyDefaults()
	return &Engine{
		audit:      audit,
		users:      users,
		sink:       sink,
		notifier:   notifier,
		dedup:      NewDedupCache(opts.DedupTTL),
		opts:       opts,
		thresholds: thresholds,
		logger:     logger.With().Str("component", "engine").Logger(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the scheduler: one pass immediately, then one per interval.
func (e *Engine) Start() {
	e.logger.Info().
		Dur("interval", e.opts.Interval).
		Dur("window", e.opts.Window).
		Int("detectors", len(detectors)).
		Msg("Starting detection engine")
	go e.loop()
}

// Stop halts future ticks and waits for an in-flight pass to finish.
func (e *Engine) Stop() {
	if e.stopped.Swap(true) {
		return
	}
	close(e.stop)
	<-e.done
	e.logger.Info().Msg("Detection engine stopped")
}

func (e *Engine) loop() {
	defer close(e.done)

	e.RunDetection()

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.RunDetection()
		}
	}
}

// RunDetection executes one full detection pass: all detectors concurrently,
// then a dedup sweep. It returns the number of alerts created. Detector
// failures are logged and isolated, they never abort the pass.
func (e *Engine) RunDetection() int {
	windowStart := time.Now().Add(-e.opts.Window)
	thresholds := e.Thresholds()

	var created atomic.Int64
	var wg sync.WaitGroup
	for _, det := range detectors {
		wg.Add(1)
		go func(det detector) {
			defer wg.Done()
			n, err := e.runDetector(det, windowStart, thresholds)
			if err != nil {
				e.logger.Error().Err(err).Str("detector", det.name).Msg("Detector run failed")
				return
			}
			created.Add(int64(n))
		}(det)
	}
	wg.Wait()

	if evicted := e.dedup.Sweep(); evicted > 0 {
		e.logger.Debug().Int("evicted", evicted).Msg("Dedup cache swept")
	}

	e.runs.Add(1)
	if n := created.Load(); n > 0 {
		e.logger.Info().Int64("alerts", n).Msg("Detection pass complete")
	}
	return int(created.Load())
}

// runDetector executes one detector against the audit log.
func (e *Engine) runDetector(det detector, windowStart time.Time, thresholds types.DetectionThresholds) (int, error) {
	threshold := det.threshold(thresholds)
	if threshold <= 0 {
		return 0, nil
	}

	counts, err := e.audit.CountEventsByDimension(det.eventType, det.dimension, windowStart)
	if err != nil {
		return 0, err
	}

	created := 0
	for value, count := range counts {
		if count < threshold {
			continue
		}

		key := DedupKey(det.name, value)
		if e.dedup.Seen(key) {
			continue
		}

		alert := e.buildAlert(det, value, count, threshold)
		stored, err := e.sink.CreateAlert(alert)
		if err != nil {
			// No retry within the pass; a persisting condition fires again
			// on the next tick.
			e.logger.Error().Err(err).
				Str("detector", det.name).
				Str("dimension", value).
				Msg("Failed to persist alert")
			continue
		}
		e.dedup.Insert(key)
		created++

		e.logger.Warn().
			Str("detector", det.name).
			Str("dimension", value).
			Int("count", count).
			Str("severity", stored.Severity.String()).
			Msg("Threat detected")

		if stored.Severity >= types.SeverityHigh {
			e.notify(stored)
		}
	}
	return created, nil
}

func (e *Engine) buildAlert(det detector, value string, count, threshold int) *types.SecurityAlert {
	now := time.Now().UTC()
	title, description := det.describe(value, count)

	alert := &types.SecurityAlert{
		Type:        det.alertType,
		Severity:    severityFor(det.baseSeverity, count, threshold),
		Title:       title,
		Description: description,
		Actor:       actorFor(det.dimension, value, e.users),
		Source:      types.AlertSource{Component: "detection-engine", Detail: det.name},
		Metrics: types.AlertMetrics{
			Count:     count,
			Threshold: threshold,
			Window:    e.opts.Window,
		},
		Detection: types.Detection{
			Method:     "threshold",
			Confidence: confidenceFor(count, threshold),
			RuleName:   det.name,
		},
		FirstOccurrence: now,
		LastOccurrence:  now,
	}
	if det.context != nil {
		alert.Context = det.context(value, count)
	}
	return alert
}

// notify dispatches fire-and-forget. Failures are logged, never returned.
func (e *Engine) notify(alert *types.SecurityAlert) {
	if e.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.notifier.Dispatch(ctx, alert); err != nil {
			e.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("Notification dispatch failed")
		}
	}()
}

// confidenceFor scales detection confidence with how far past the threshold
// the count landed, capped at 0.99.
func confidenceFor(count, threshold int) float64 {
	if threshold <= 0 {
		return 0.5
	}
	conf := 0.7 + 0.1*float64(count-threshold)/float64(threshold)
	if conf > 0.99 {
		conf = 0.99
	}
	return conf
}

// UpdateThresholds merges positive fields of t into the live configuration.
// The merged values are read on the next detection cycle.
func (e *Engine) UpdateThresholds(t types.DetectionThresholds) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.FailedLoginsPerIP > 0 {
		e.thresholds.FailedLoginsPerIP = t.FailedLoginsPerIP
	}
	if t.FailedLoginsPerUser > 0 {
		e.thresholds.FailedLoginsPerUser = t.FailedLoginsPerUser
	}
	if t.RateLimitHits > 0 {
		e.thresholds.RateLimitHits = t.RateLimitHits
	}
	if t.UnauthorizedAccess > 0 {
		e.thresholds.UnauthorizedAccess = t.UnauthorizedAccess
	}
	if t.ConcurrentSessions > 0 {
		e.thresholds.ConcurrentSessions = t.ConcurrentSessions
	}
	if t.PermissionDenials > 0 {
		e.thresholds.PermissionDenials = t.PermissionDenials
	}
	if t.DataExports > 0 {
		e.thresholds.DataExports = t.DataExports
	}
	e.logger.Info().Msg("Detection thresholds updated")
}

// Thresholds returns a copy of the live threshold configuration.
func (e *Engine) Thresholds() types.DetectionThresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// Runs returns how many detection passes have completed.
func (e *Engine) Runs() int64 {
	return e.runs.Load()
}
