package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanSamplesEvenInterval(t *testing.T) {
	samples := PlanSamples(10, SamplingPolicy{
		IntervalSeconds: 2,
		MaxFrames:       10,
		StartOffset:     0,
	})

	require.Len(t, samples, 5)
	assert.Equal(t, []float64{0, 2, 4, 6, 8}, samples)
}

func TestPlanSamplesCappedByMaxFrames(t *testing.T) {
	samples := PlanSamples(100, SamplingPolicy{
		IntervalSeconds: 1,
		MaxFrames:       3,
	})

	assert.Equal(t, []float64{0, 1, 2}, samples)
}

func TestPlanSamplesStartOffsetPastDuration(t *testing.T) {
	samples := PlanSamples(5, SamplingPolicy{
		IntervalSeconds: 2,
		MaxFrames:       10,
		StartOffset:     30,
	})

	assert.Empty(t, samples)
}

func TestPlanSamplesStartOffsetShiftsTimestamps(t *testing.T) {
	samples := PlanSamples(10, SamplingPolicy{
		IntervalSeconds: 3,
		MaxFrames:       10,
		StartOffset:     1.5,
	})

	assert.Equal(t, []float64{1.5, 4.5, 7.5}, samples)
}

func TestPlanSamplesZeroInterval(t *testing.T) {
	assert.Nil(t, PlanSamples(10, SamplingPolicy{IntervalSeconds: 0, MaxFrames: 5}))
}

func TestPlanSamplesZeroDuration(t *testing.T) {
	assert.Nil(t, PlanSamples(0, SamplingPolicy{IntervalSeconds: 2, MaxFrames: 5}))
}

func TestPlanSamplesUncappedWhenMaxFramesZero(t *testing.T) {
	samples := PlanSamples(6, SamplingPolicy{IntervalSeconds: 2})
	assert.Equal(t, []float64{0, 2, 4}, samples)
}

func TestPlanSamplesDeterministic(t *testing.T) {
	policy := SamplingPolicy{IntervalSeconds: 2.5, MaxFrames: 40, StartOffset: 0.5}
	first := PlanSamples(63.7, policy)
	second := PlanSamples(63.7, policy)
	assert.Equal(t, first, second)
}
