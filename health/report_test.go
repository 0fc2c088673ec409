package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	ms := time.Millisecond

	tests := []struct {
		name      string
		latencies []time.Duration
		failed    []bool
		want      PerformanceReport
	}{
		{
			name: "empty",
			want: PerformanceReport{},
		},
		{
			name:      "all succeeded",
			latencies: []time.Duration{ms, 2 * ms, 3 * ms},
			failed:    []bool{false, false, false},
			want: PerformanceReport{
				QueriesExecuted:   3,
				AvgResponseTimeMS: 2,
				MinResponseTimeMS: 1,
				MaxResponseTimeMS: 3,
				SuccessRate:       100,
			},
		},
		{
			name:      "failures excluded from latency",
			latencies: []time.Duration{ms, 500 * ms, 3 * ms},
			failed:    []bool{false, true, false},
			want: PerformanceReport{
				QueriesExecuted:   3,
				QueriesFailed:     1,
				AvgResponseTimeMS: 2,
				MinResponseTimeMS: 1,
				MaxResponseTimeMS: 3,
				SuccessRate:       66.67,
			},
		},
		{
			name:      "all failed",
			latencies: []time.Duration{ms, ms},
			failed:    []bool{true, true},
			want:      PerformanceReport{QueriesExecuted: 2, QueriesFailed: 2},
		},
		{
			name:      "sub-millisecond rounding",
			latencies: []time.Duration{1234 * time.Microsecond, 5678 * time.Microsecond},
			failed:    []bool{false, false},
			want: PerformanceReport{
				QueriesExecuted:   2,
				AvgResponseTimeMS: 3.46,
				MinResponseTimeMS: 1.23,
				MaxResponseTimeMS: 5.68,
				SuccessRate:       100,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarize(tt.latencies, tt.failed))
		})
	}
}

func TestUnixSeconds(t *testing.T) {
	ts := time.Unix(1700000000, int64(250*time.Millisecond))
	assert.InDelta(t, 1700000000.25, unixSeconds(ts), 1e-6)
}
