package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
)

func TestRecorder_ObserveEngine(t *testing.T) {
	r := New()

	r.ObserveEngine("zscore", 20*time.Millisecond, contracts.ErrorKindNone)
	r.ObserveEngine("zscore", 10*time.Millisecond, contracts.ErrorKindNone)
	r.ObserveEngine("zscore", time.Second, contracts.ErrorKindTimeout)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.engineRuns.WithLabelValues("zscore", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.engineRuns.WithLabelValues("zscore", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.engineDuration))
}

func TestRecorder_ObserveCycle(t *testing.T) {
	r := New()

	r.ObserveCycle(time.Second, 3, 1)
	r.ObserveCycle(time.Second, 4, 0)

	assert.Equal(t, 7.0, testutil.ToFloat64(r.cycleEngines.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycleEngines.WithLabelValues("failed")))
}

func TestRecorder_Cache(t *testing.T) {
	r := New()

	r.CacheHit()
	r.CacheHit()
	r.CacheMiss()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("miss")))
}

func TestRecorder_RecordResult(t *testing.T) {
	r := New()

	r.RecordResult(&contracts.ExecutionResult{
		EngineID: "data_integrity",
		Success:  true,
		Output:   &contracts.EngineOutput{Primary: contracts.Metric{Value: 87.5}, Confidence: 90},
	}, "data_integrity")
	r.RecordResult(&contracts.ExecutionResult{
		EngineID: "zscore",
		Success:  true,
		Output:   &contracts.EngineOutput{Primary: contracts.Metric{Value: -1.2}, Confidence: 60},
	}, "data_integrity")
	r.RecordResult(&contracts.ExecutionResult{EngineID: "allocator", Success: false}, "data_integrity")
	r.RecordResult(nil, "data_integrity")

	assert.Equal(t, 87.5, testutil.ToFloat64(r.integrityScore))
	assert.Equal(t, -1.2, testutil.ToFloat64(r.primaryValue.WithLabelValues("zscore")))
	assert.Equal(t, 60.0, testutil.ToFloat64(r.confidence.WithLabelValues("zscore")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.primaryValue))
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.CacheHit()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `flow_oracle_cache_lookups_total{result="hit"} 1`)
}

func TestRecorder_SeparateRegistries(t *testing.T) {
	// 각 Recorder는 독립 레지스트리라 중복 등록 패닉이 없어야 함
	assert.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
