package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpanIDPlanIsDeterministic(t *testing.T) {
	const p = uint64(1000)
	assert.Equal(t, p+1, execSpanID(p))
	assert.Equal(t, p+2, execProcessSpanID(p))
	assert.Equal(t, p+3, execFinishSpanID(p))
	assert.Equal(t, p+4, execCompleteSpanID(p))

	assert.Equal(t, p+2+10000, childCallSpanID(p, 0))
	assert.Equal(t, p+2+10000+1, childCallPrepareSpanID(p, 0))
	assert.Equal(t, p+2+10000+2, childCallSpanID(p, 1))
}

func TestTriggerThresholdBoundaries(t *testing.T) {
	assert.Equal(t, uint32(0), triggerThreshold(0))
	assert.Equal(t, uint32(0), triggerThreshold(-1))
	assert.Equal(t, uint32(4294967295), triggerThreshold(1))
	assert.Equal(t, uint32(4294967295), triggerThreshold(2))

	half := triggerThreshold(0.5)
	assert.InDelta(t, float64(2147483647), float64(half), float64(2))
}

func TestTriggerFires(t *testing.T) {
	assert.True(t, triggerFires(0, 100))
	assert.False(t, triggerFires(100, 100))
	assert.False(t, triggerFires(0, 0))
}
