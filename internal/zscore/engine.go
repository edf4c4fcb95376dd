package zscore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/cache"
	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
	"github.com/F1J197/flow-oracle-sub007/pkg/logger"
)

// EngineID is the registry id of the composite Z-score engine
const EngineID = "zscore"

// Sub-metric names
const (
	MetricRegimeIndex = "regime_index"
	MetricExtremes    = "extreme_windows"
	MetricIndicators  = "indicators"
)

// CompositeKey is the sub-metric holding an indicator's composite z
func CompositeKey(indicator string) string {
	return "z." + indicator
}

// Result is the per-indicator outcome of one run
type Result struct {
	Composite    contracts.CompositeZScore `json:"composite"`
	Change24h    float64                   `json:"change_24h"`
	Previous     *float64                  `json:"previous,omitempty"` // 24시간 전 composite
	Volatility   VolatilityState           `json:"volatility"`
	Distribution Distribution              `json:"distribution"`
}

type memo struct {
	result Result
	ok     bool
}

// Engine is the multi-window composite Z-score engine
type Engine struct {
	config     Config
	calc       *Calculator
	classifier VolatilityClassifier
	cache      *cache.Cache
	logger     *logger.Logger
	configHash string

	mu     sync.RWMutex
	latest map[string]Result
}

var _ engine.Engine = (*Engine)(nil)

// Option configures an Engine
type Option func(*Engine)

// WithClassifier replaces the default realised-volatility classifier
func WithClassifier(c VolatilityClassifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithCache memoises per-indicator results by content fingerprint
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// NewEngine creates the Z-score engine
func NewEngine(cfg Config, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		config:     cfg,
		calc:       NewCalculator(cfg),
		classifier: DefaultClassifier(),
		logger:     log,
		latest:     make(map[string]Result),
	}
	for _, opt := range opts {
		opt(e)
	}

	// 설정이 바뀌면 memo 키도 바뀜
	raw, _ := json.Marshal(cfg)
	sum := sha256.Sum256(raw)
	e.configHash = hex.EncodeToString(sum[:8])
	return e
}

// ValidateData implements engine.Engine: at least one tracked indicator needs MinSamples points
func (e *Engine) ValidateData(snap *contracts.Snapshot) bool {
	if snap == nil {
		return false
	}
	for _, ind := range e.indicators(snap) {
		if s := snap.Primary(ind); s != nil && len(s.Points) >= e.config.MinSamples {
			return true
		}
	}
	return false
}

// Calculate implements engine.Engine
func (e *Engine) Calculate(ctx context.Context, in engine.Input) (*contracts.EngineOutput, error) {
	trust := in.Trust()
	out := &contracts.EngineOutput{ComputedAt: in.Now}

	var results []Result
	var extremes int
	for _, ind := range e.indicators(in.Snapshot) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, ok, err := e.indicator(in, ind)
		if err != nil {
			return nil, fmt.Errorf("indicator %s: %w", ind, err)
		}
		if !ok {
			continue
		}
		res.Composite.Confidence = clamp01(res.Composite.Confidence * trust)
		results = append(results, res)

		out.SetSubMetric(CompositeKey(ind), res.Composite.Value)
		for _, comp := range res.Composite.Components {
			out.SetSubMetric(CompositeKey(ind)+"."+comp.Window.Label, comp.ZScore)
			if comp.Extreme {
				extremes++
			}
		}
		out.SetSubMetric("skew."+ind, res.Distribution.Skewness)
		out.SetSubMetric("kurtosis."+ind, res.Distribution.ExcessKurtosis)
	}

	if len(results) == 0 {
		return contracts.NeutralOutput("Insufficient history for composite z-score", 0), nil
	}

	e.mu.Lock()
	for _, r := range results {
		e.latest[r.Composite.Indicator] = r
	}
	e.mu.Unlock()

	// 지표 평균 composite
	var value, conf, change, prev float64
	var withPrev int
	for _, r := range results {
		value += r.Composite.Value
		conf += r.Composite.Confidence
		if r.Previous != nil {
			change += r.Change24h
			prev += *r.Previous
			withPrev++
		}
	}
	n := float64(len(results))
	value /= n
	conf /= n

	out.Primary.Value = value
	if withPrev > 0 {
		change /= float64(withPrev)
		prev /= float64(withPrev)
		out.Primary.Change24h = change
		if prev != 0 {
			out.Primary.ChangePct = 100 * change / math.Abs(prev)
		}
	}

	regime := RegimeFor(value, e.config.Seasons)
	out.Signal = e.signal(value, conf)
	out.Confidence = contracts.ClampConfidence(100 * conf)
	out.SetSubMetric(MetricRegimeIndex, RegimeIndex(regime))
	out.SetSubMetric(MetricExtremes, float64(extremes))
	out.SetSubMetric(MetricIndicators, n)
	out.Analysis = fmt.Sprintf("Composite z %.2f (%s) across %d indicators, %d extreme windows, trust %.2f",
		value, regime, len(results), extremes, trust)

	return out, nil
}

// indicator computes (or recalls) the result of one indicator
func (e *Engine) indicator(in engine.Input, ind string) (Result, bool, error) {
	series := in.Series(ind)
	if series == nil {
		return Result{}, false, nil
	}
	current, ok := in.CurrentValue(ind)
	if !ok {
		return Result{}, false, nil
	}

	points := series.Until(in.Now)
	values := make([]float64, 0, len(points))
	for _, p := range points {
		if finite(p.Value) {
			values = append(values, p.Value)
		}
	}
	vol := e.classifier.Classify(in, ind, values)

	compute := func() (interface{}, error) {
		res, ok := e.compute(ind, points, current, in.Now, vol)
		return memo{result: res, ok: ok}, nil
	}

	if e.cache == nil {
		v, _ := compute()
		m := v.(memo)
		return m.result, m.ok, nil
	}

	key := e.memoKey(ind, points, current, in.Now, vol)
	v, hit, err := e.cache.GetOrCompute(key, e.config.CacheTTL, compute)
	if err != nil {
		return Result{}, false, err
	}
	m, ok := v.(memo)
	if !ok {
		return Result{}, false, fmt.Errorf("unexpected cache value %T under %s", v, key)
	}
	if hit {
		e.logger.WithFields(map[string]interface{}{
			"indicator": ind,
			"key":       key,
		}).Debug("zscore memo hit")
	}
	return m.result, m.ok, nil
}

func (e *Engine) compute(ind string, points []contracts.Point, current float64, now time.Time, vol VolatilityState) (Result, bool) {
	comp, ok := e.calc.Compute(ind, points, current, now, vol)
	if !ok {
		return Result{}, false
	}

	res := Result{
		Composite:    comp,
		Volatility:   vol,
		Distribution: e.calc.Analyze(points, current, now),
	}

	// 24시간 전 시점으로 잘라 다시 계산
	dayAgo := now.Add(-24 * time.Hour)
	var before []contracts.Point
	for _, p := range points {
		if p.Time.After(dayAgo) {
			break
		}
		before = append(before, p)
	}
	if len(before) > 0 {
		if prev, ok := e.calc.Compute(ind, before, before[len(before)-1].Value, dayAgo, vol); ok {
			v := prev.Value
			res.Previous = &v
			res.Change24h = comp.Value - prev.Value
		}
	}
	return res, true
}

// memoKey fingerprints everything the result depends on
func (e *Engine) memoKey(ind string, points []contracts.Point, current float64, now time.Time, vol VolatilityState) string {
	h := sha256.New()
	buf := make([]byte, 8)
	put := func(v uint64) {
		binary.BigEndian.PutUint64(buf, v)
		h.Write(buf)
	}

	h.Write([]byte(ind))
	h.Write([]byte(vol))
	put(uint64(now.UnixNano()))
	put(math.Float64bits(current))
	for _, p := range points {
		put(uint64(p.Time.UnixNano()))
		put(math.Float64bits(p.Value))
	}

	return fmt.Sprintf("zscore:%s:%s:%s", e.configHash, ind, hex.EncodeToString(h.Sum(nil)[:16]))
}

// signal maps the composite value to a risk read-out
func (e *Engine) signal(value, confidence float64) contracts.Signal {
	switch {
	case confidence < e.config.MinConfidence:
		return contracts.SignalNeutral
	case math.Abs(value) > e.config.ExtremeCutoff:
		return contracts.SignalWarning
	case value <= -e.config.SignalBand:
		return contracts.SignalRiskOn
	case value >= e.config.SignalBand:
		return contracts.SignalRiskOff
	}
	return contracts.SignalNeutral
}

func (e *Engine) indicators(snap *contracts.Snapshot) []string {
	if len(e.config.Indicators) > 0 {
		return e.config.Indicators
	}
	if snap == nil {
		return nil
	}
	return snap.Indicators()
}

// Latest returns the last computed result of an indicator
func (e *Engine) Latest(indicator string) (Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.latest[indicator]
	return r, ok
}

// Results returns the last computed results sorted by indicator
func (e *Engine) Results() []Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Result, 0, len(e.latest))
	for _, r := range e.latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Composite.Indicator < out[j].Composite.Indicator
	})
	return out
}
