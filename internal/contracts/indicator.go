package contracts

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Point is a single (timestamp, value) observation
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// IndicatorSeries is one source's time series for a logical indicator
// ⭐ SSOT: 엔진 입력 시계열 구조
type IndicatorSeries struct {
	ID        string    `json:"id"`        // 고유 시리즈 id (예: "btc_price.binance")
	Indicator string    `json:"indicator"` // 논리 지표 id, 비어있으면 ID
	Source    string    `json:"source"`
	Priority  int       `json:"priority"` // 낮을수록 우선 소스
	Weight    float64   `json:"weight"`   // 무결성 점수 가중치, 0이면 1
	Points    []Point   `json:"points"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LogicalIndicator returns the indicator this series reports
func (s *IndicatorSeries) LogicalIndicator() string {
	if s.Indicator == "" {
		return s.ID
	}
	return s.Indicator
}

// Last returns the most recent point
func (s *IndicatorSeries) Last() (Point, bool) {
	if s == nil || len(s.Points) == 0 {
		return Point{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Values returns the point values in time order
func (s *IndicatorSeries) Values() []float64 {
	values := make([]float64, len(s.Points))
	for i, p := range s.Points {
		values[i] = p.Value
	}
	return values
}

// Since returns the points with Time >= from
func (s *IndicatorSeries) Since(from time.Time) []Point {
	idx := sort.Search(len(s.Points), func(i int) bool {
		return !s.Points[i].Time.Before(from)
	})
	return s.Points[idx:]
}

// Until returns the points with Time <= to
func (s *IndicatorSeries) Until(to time.Time) []Point {
	idx := sort.Search(len(s.Points), func(i int) bool {
		return s.Points[i].Time.After(to)
	})
	return s.Points[:idx]
}

// Validate checks that points are strictly time-ascending
func (s *IndicatorSeries) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("series id is required")
	}
	for i := 1; i < len(s.Points); i++ {
		if !s.Points[i].Time.After(s.Points[i-1].Time) {
			return fmt.Errorf("series %s: point %d at %s is not after %s",
				s.ID, i, s.Points[i].Time.Format(time.RFC3339), s.Points[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// Normalize sorts points by time and drops duplicate timestamps, keeping the last one
func (s *IndicatorSeries) Normalize() {
	sort.SliceStable(s.Points, func(i, j int) bool {
		return s.Points[i].Time.Before(s.Points[j].Time)
	})

	out := s.Points[:0]
	for _, p := range s.Points {
		if n := len(out); n > 0 && out[n-1].Time.Equal(p.Time) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	s.Points = out

	if s.UpdatedAt.IsZero() {
		if last, ok := s.Last(); ok {
			s.UpdatedAt = last.Time
		}
	}
}

// Snapshot is the keyed indicator collection read once per execution cycle
// ⭐ SSOT: Provider → Engine 스냅샷 전달
type Snapshot struct {
	TakenAt time.Time                   `json:"taken_at"`
	Series  map[string]*IndicatorSeries `json:"series"` // key: series id
}

// NewSnapshot builds a snapshot from series, normalizing each one
func NewSnapshot(takenAt time.Time, series ...*IndicatorSeries) *Snapshot {
	snap := &Snapshot{
		TakenAt: takenAt,
		Series:  make(map[string]*IndicatorSeries, len(series)),
	}
	for _, s := range series {
		s.Normalize()
		snap.Series[s.ID] = s
	}
	return snap
}

// Get returns a series by id
func (s *Snapshot) Get(id string) *IndicatorSeries {
	if s == nil {
		return nil
	}
	return s.Series[id]
}

// Has reports whether a series id or logical indicator is present
func (s *Snapshot) Has(id string) bool {
	if s.Get(id) != nil {
		return true
	}
	return len(s.Sources(id)) > 0
}

// Sources returns every series reporting the logical indicator, ordered by priority then id
func (s *Snapshot) Sources(indicator string) []*IndicatorSeries {
	if s == nil {
		return nil
	}
	var out []*IndicatorSeries
	for _, series := range s.Series {
		if series.LogicalIndicator() == indicator {
			out = append(out, series)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Primary returns the highest-priority series for the logical indicator
func (s *Snapshot) Primary(indicator string) *IndicatorSeries {
	if series := s.Get(indicator); series != nil {
		return series
	}
	sources := s.Sources(indicator)
	if len(sources) == 0 {
		return nil
	}
	return sources[0]
}

// Indicators returns the sorted set of logical indicators in the snapshot
func (s *Snapshot) Indicators() []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, series := range s.Series {
		seen[series.LogicalIndicator()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Validate checks every series in the snapshot
func (s *Snapshot) Validate() error {
	for id, series := range s.Series {
		if id != series.ID {
			return fmt.Errorf("series key %q does not match id %q", id, series.ID)
		}
		if err := series.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotProvider supplies one indicator snapshot per execution cycle
// ⭐ SSOT: 외부 데이터 수집기와의 유일한 경계
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context) (*Snapshot, error)
}
