package trendengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/barisx/Indicators/internal/indicator"
	"github.com/barisx/Indicators/internal/lines"
	"github.com/barisx/Indicators/internal/logger"
	"github.com/barisx/Indicators/internal/metrics"
	"github.com/barisx/Indicators/internal/model"
	"github.com/barisx/Indicators/internal/trend"
)

// Frame error reasons, used as the metrics label.
const (
	reasonRegistry    = "registry"
	reasonUnknownLine = "unknown_line"
	reasonInvalidLine = "invalid_line"
	reasonPrice       = "price"
	reasonOther       = "other"
)

// instrument is the live state kept for one "exchange:token" key.
type instrument struct {
	registry   *lines.Registry
	classifier *trend.Classifier
	retired    map[int]struct{} // removals deferred while a line backs is
	lastSeen   time.Time
}

// settle removes retired lines the classifier no longer stands on. A
// retired line still backing is stays readable and is marked rolled
// back, so the next tick closes the state on it.
func (inst *instrument) settle() {
	backing, held := inst.classifier.Is().LineIndex()
	for id := range inst.retired {
		if held && id == backing {
			if l, ok := inst.registry.Line(id); ok && !l.Rollback {
				l.Rollback = true
				_ = inst.registry.Put(l)
			}
			continue
		}
		inst.registry.Remove(id)
		delete(inst.retired, id)
	}
}

// Output is everything one frame produced.
type Output struct {
	Trend      model.TrendResult
	Outcome    trend.Outcome
	Indicators []model.IndicatorResult
}

// Processor advances the per-instrument line registry, classifier and
// smoothers by one frame at a time. It owns all domain state and is not
// safe for concurrent use: the service calls it from a single goroutine.
type Processor struct {
	cfg      trend.Config
	kdiffCap int
	engine   *indicator.Engine
	state    map[string]*instrument

	prom *metrics.Metrics // nil in tests
	log  *slog.Logger
	now  func() time.Time
}

// NewProcessor creates a processor. prom may be nil.
func NewProcessor(cfg trend.Config, kdiffCap int, engine *indicator.Engine, prom *metrics.Metrics, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		cfg:      cfg,
		kdiffCap: kdiffCap,
		engine:   engine,
		state:    make(map[string]*instrument, 64),
		prom:     prom,
		log:      log,
		now:      time.Now,
	}
}

// Handle applies f to its instrument:
//  1. line updates go into the registry,
//  2. the classifier steps over the frame's active identifiers,
//  3. removals are applied, deferring the line that backs is,
//  4. the price is committed to the smoothers (closed frames) or previewed.
//
// A frame the registry or classifier rejects returns an error; the
// classifier is left as it was and the price is not consumed.
func (p *Processor) Handle(ctx context.Context, f model.Frame) (Output, error) {
	start := time.Now()
	key := f.Key()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(key, f.Seq))

	inst := p.instrument(key)
	inst.lastSeen = p.now()

	if err := inst.registry.Apply(f.Lines, nil); err != nil {
		return Output{}, p.reject(ctx, f, reasonRegistry, err)
	}
	for _, l := range f.Lines {
		delete(inst.retired, l.Index)
	}
	for _, id := range f.Remove {
		inst.retired[id] = struct{}{}
	}

	_, outcome, err := inst.classifier.Step(f.HighIDs, f.LowIDs)
	inst.settle()
	if err != nil {
		return Output{}, p.reject(ctx, f, classifierReason(err), err)
	}

	if p.kdiffCap > 0 {
		if n := inst.classifier.TrimKDiff(p.kdiffCap); n > 0 && p.prom != nil {
			p.prom.KDiffTrimmed.Add(float64(n))
		}
	}

	out := Output{
		Trend:   inst.classifier.Result(f, outcome),
		Outcome: outcome,
	}

	var indErr error
	if f.Closed {
		out.Indicators, indErr = p.engine.Process(f)
	} else {
		out.Indicators, indErr = p.engine.ProcessPeek(f)
	}
	if indErr != nil {
		// The classifier already advanced; only the smoothers skip this price.
		p.count(reasonPrice)
		p.log.Warn("smoother input rejected",
			append(logger.LogWithTrace(ctx), slog.String("key", key), slog.Any("error", indErr))...)
	}

	p.observe(out, time.Since(start))

	if outcome.Transition {
		p.log.Info("trend transition",
			append(logger.LogWithTrace(ctx),
				slog.String("key", key),
				slog.String("is", out.Trend.Is.State),
				slog.String("was", out.Trend.Was.State),
				slog.Float64("projection", out.Trend.Projection),
			)...)
	}
	return out, nil
}

// instrument returns the state for key, creating it on first use.
func (p *Processor) instrument(key string) *instrument {
	inst, ok := p.state[key]
	if !ok {
		reg := lines.New()
		inst = &instrument{
			registry:   reg,
			classifier: trend.New(reg, p.cfg),
			retired:    make(map[int]struct{}),
		}
		p.state[key] = inst
		if p.prom != nil {
			p.prom.Instruments.Set(float64(len(p.state)))
		}
	}
	return inst
}

// Classifier returns the classifier for key, if the instrument has been seen.
func (p *Processor) Classifier(key string) (*trend.Classifier, bool) {
	inst, ok := p.state[key]
	if !ok {
		return nil, false
	}
	return inst.classifier, true
}

// Forget drops all state for key.
func (p *Processor) Forget(key string) {
	delete(p.state, key)
	p.engine.Forget(key)
	if p.prom != nil {
		p.prom.Instruments.Set(float64(len(p.state)))
		p.prom.ProjectionLevel.DeleteLabelValues(key)
	}
}

// EvictIdle forgets every instrument that has not received a frame within
// maxIdle and returns their keys.
func (p *Processor) EvictIdle(maxIdle time.Duration) []string {
	cutoff := p.now().Add(-maxIdle)
	var evicted []string
	for key, inst := range p.state {
		if inst.lastSeen.Before(cutoff) {
			evicted = append(evicted, key)
		}
	}
	for _, key := range evicted {
		p.Forget(key)
	}
	return evicted
}

// Len returns the number of instruments with live state.
func (p *Processor) Len() int { return len(p.state) }

func (p *Processor) reject(ctx context.Context, f model.Frame, reason string, err error) error {
	p.count(reason)
	p.log.Error("frame rejected",
		append(logger.LogWithTrace(ctx),
			slog.String("key", f.Key()),
			slog.Int64("seq", f.Seq),
			slog.String("reason", reason),
			slog.Any("error", err),
		)...)
	return fmt.Errorf("frame %s seq=%d: %w", f.Key(), f.Seq, err)
}

func (p *Processor) count(reason string) {
	if p.prom != nil {
		p.prom.FrameErrors.WithLabelValues(reason).Inc()
	}
}

func (p *Processor) observe(out Output, elapsed time.Duration) {
	if p.prom == nil {
		return
	}
	p.prom.FramesTotal.Inc()
	p.prom.ComputeDur.Observe(elapsed.Seconds())
	p.prom.ProjectionLevel.WithLabelValues(out.Trend.Key()).Set(out.Trend.Projection)
	if out.Outcome.Transition {
		p.prom.TransitionsTotal.WithLabelValues(out.Trend.Is.State).Inc()
	}
	if len(out.Indicators) > 0 {
		p.prom.IndicatorsTotal.Add(float64(len(out.Indicators)))
	}
}

func classifierReason(err error) string {
	switch {
	case errors.Is(err, trend.ErrUnknownLine):
		return reasonUnknownLine
	case errors.Is(err, trend.ErrInvalidLine):
		return reasonInvalidLine
	}
	return reasonOther
}
