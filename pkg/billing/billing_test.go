package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimator_Cost(t *testing.T) {
	e := NewEstimator(0.002)

	assert.Equal(t, "0", e.Cost(0).String())
	assert.Equal(t, "0.000024", e.Cost(12).String())
	assert.Equal(t, "2", e.Cost(1_000_000).String())
	assert.True(t, e.Cost(-5).IsZero())
}

func TestEstimator_Summary(t *testing.T) {
	e := NewEstimator(0.002)

	got := e.Summary(12345)
	assert.Equal(t, "You spent <b>0.025$</b>\nYou used <b>12345</b> tokens <i>(price: 0.002$ per 1000 tokens)</i>\n", got)
}
