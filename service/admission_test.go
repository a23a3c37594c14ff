package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmissionControllerBangBang(t *testing.T) {
	a := NewAdmissionController(10)

	for i := 0; i < 4; i++ {
		assert.True(t, a.PrepareNextRequest())
		a.RequestAdmitted()
	}
	assert.False(t, a.Draining())

	// Crossing max/2 (5) outstanding flips draining.
	assert.True(t, a.PrepareNextRequest())
	a.RequestAdmitted()
	assert.True(t, a.Draining())

	// While draining, no new request may be prepared.
	assert.False(t, a.PrepareNextRequest())

	for i := 0; i < 5; i++ {
		a.RequestCompleted()
	}
	assert.False(t, a.Draining())
	assert.Equal(t, 0, a.Outstanding())
}

func TestAdmissionControllerNeverExceedsMaxPlusOne(t *testing.T) {
	a := NewAdmissionController(4)
	admitted := 0
	for i := 0; i < 100; i++ {
		if a.PrepareNextRequest() {
			admitted++
			a.RequestAdmitted()
		}
		assert.LessOrEqual(t, a.Outstanding(), 5)
	}
	assert.Greater(t, admitted, 0)
}
