package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingPayment, StatusPaid, true},
		{StatusPendingPayment, StatusFailed, true},
		{StatusPaid, StatusGenerating, true},
		{StatusGenerating, StatusCompleted, true},
		{StatusGenerating, StatusFailed, true},
		{StatusFailed, StatusRefunded, true},
		{StatusPaid, StatusCompleted, false},
		{StatusCompleted, StatusGenerating, false},
		{StatusRefunded, StatusFailed, false},
		{StatusCompleted, StatusFailed, false},
		{StatusPendingPayment, StatusGenerating, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusRefunded.Terminal())
	assert.False(t, StatusGenerating.Terminal())
	assert.False(t, Status("bogus").Valid())
}

func TestFinal(t *testing.T) {
	assert.True(t, StatusCompleted.Final())
	assert.True(t, StatusRefunded.Final())
	assert.False(t, StatusFailed.Final(), "failed orders may still be refunded")
	assert.False(t, StatusPaid.Final())
	assert.False(t, Status("bogus").Final())
}
