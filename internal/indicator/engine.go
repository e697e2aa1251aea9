package indicator

import (
	"fmt"

	"github.com/barisx/Indicators/internal/model"
)

// keySmoothers holds live smoother instances for one instrument.
type keySmoothers struct {
	smoothers []Smoother
}

// Engine runs a configured smoother set for many instruments.
// Designed for single-goroutine usage; no locks needed.
type Engine struct {
	configs []IndicatorConfig
	state   map[string]*keySmoothers // "exchange:token" → smoothers
}

// NewEngine creates an engine after validating configs.
func NewEngine(configs []IndicatorConfig) (*Engine, error) {
	if err := ValidateConfigs(configs); err != nil {
		return nil, err
	}
	return &Engine{
		configs: configs,
		state:   make(map[string]*keySmoothers, 64),
	}, nil
}

// Configs returns the smoother set the engine was built with.
func (e *Engine) Configs() []IndicatorConfig { return e.configs }

// Process commits the frame price to every smoother of the frame's instrument.
// Results include not-ready smoothers with Ready=false.
func (e *Engine) Process(f model.Frame) ([]model.IndicatorResult, error) {
	price, err := framePrice(f)
	if err != nil {
		return nil, err
	}

	key := f.Key()
	ks, exists := e.state[key]
	if !exists {
		// First frame for this instrument: create smoother instances
		ks, err = e.createSmoothers()
		if err != nil {
			return nil, err
		}
		e.state[key] = ks
	}

	results := make([]model.IndicatorResult, 0, len(ks.smoothers))
	for i, s := range ks.smoothers {
		v, ok := s.NextValue(price)
		results = append(results, e.result(f, i, v, ok, false))
	}
	return results, nil
}

// ProcessPeek previews the frame price for an in-progress observation.
// Does NOT mutate smoother state. Returns nil if the instrument has not been
// seen by Process yet.
func (e *Engine) ProcessPeek(f model.Frame) ([]model.IndicatorResult, error) {
	price, err := framePrice(f)
	if err != nil {
		return nil, err
	}

	ks, exists := e.state[f.Key()]
	if !exists {
		return nil, nil
	}

	results := make([]model.IndicatorResult, 0, len(ks.smoothers))
	for i, s := range ks.smoothers {
		v, ok := s.MomentValue(price)
		results = append(results, e.result(f, i, v, ok, true))
	}
	return results, nil
}

// Forget drops all smoother state for an instrument key.
func (e *Engine) Forget(key string) {
	delete(e.state, key)
}

// Len returns the number of instruments with live state.
func (e *Engine) Len() int { return len(e.state) }

func (e *Engine) result(f model.Frame, i int, v float64, ok, live bool) model.IndicatorResult {
	return model.IndicatorResult{
		Name:     e.configs[i].Name(),
		Token:    f.Token,
		Exchange: f.Exchange,
		Seq:      f.Seq,
		Value:    v,
		TS:       f.TS,
		Ready:    ok,
		Live:     live,
	}
}

func (e *Engine) createSmoothers() (*keySmoothers, error) {
	smoothers := make([]Smoother, len(e.configs))
	for i, cfg := range e.configs {
		s, err := NewSmoother(cfg)
		if err != nil {
			return nil, err
		}
		smoothers[i] = s
	}
	return &keySmoothers{smoothers: smoothers}, nil
}

func framePrice(f model.Frame) (float64, error) {
	price, err := f.PriceFloat()
	if err != nil {
		return 0, fmt.Errorf("%s seq=%d: %w: %v", f.Key(), f.Seq, ErrNonFinite, err)
	}
	return price, nil
}
