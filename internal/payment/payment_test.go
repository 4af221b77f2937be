package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusRefunded, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusRefunded, true},
		{StatusCompleted, StatusPartiallyRefunded, true},
		{StatusCompleted, StatusFailed, false},
		{StatusPartiallyRefunded, StatusRefunded, true},
		{StatusPartiallyRefunded, StatusPartiallyRefunded, true},
		{StatusFailed, StatusCompleted, false},
		{StatusCancelled, StatusCompleted, false},
		{StatusRefunded, StatusPartiallyRefunded, false},
	}
	for _, tt := range tests {
		p := &Payment{Status: tt.from}
		assert.Equal(t, tt.allowed, p.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatusActive(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusProcessing.Active())
	assert.False(t, StatusCompleted.Active())
	assert.False(t, StatusFailed.Active())
	assert.False(t, StatusCancelled.Active())
	assert.False(t, StatusRefunded.Active())
	assert.False(t, StatusPartiallyRefunded.Active())
}

func TestTransitionRejectsInvalid(t *testing.T) {
	p := &Payment{Status: StatusFailed}
	err := p.transition(StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusFailed, p.Status)
}
