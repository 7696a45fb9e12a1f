package timeframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_InclusiveRange(t *testing.T) {
	got := Generate(0, 300, 100)
	assert.Equal(t, []int64{0, 100, 200, 300}, got)
}

func TestGenerate_SingleStep(t *testing.T) {
	got := Generate(0, 50, 100)
	assert.Equal(t, []int64{0}, got)
}

func TestGenerate_InvalidRangeReturnsNil(t *testing.T) {
	assert.Nil(t, Generate(100, 0, 10))
	assert.Nil(t, Generate(0, 100, 0))
	assert.Nil(t, Generate(0, 100, -5))
}
