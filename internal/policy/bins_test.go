package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBinPrevInterval(t *testing.T) {
	assert.Equal(t, uint32(0), binPrevInterval(0))
	assert.Equal(t, uint32(0), binPrevInterval(99_999))
	assert.Equal(t, uint32(1), binPrevInterval(100_000))
	assert.Equal(t, uint32(1), binPrevInterval(5_000_000_000))
}

func TestBinCurrInterval(t *testing.T) {
	tests := []struct {
		gap  uint64
		want uint32
	}{
		{0, 0},
		{1, 1},
		{5_000, 1},         // 5us -> below 10us
		{10_000, 2},        // exactly 10us -> next bin
		{15_000, 2},        // 15us
		{5_000_000, 10},     // 5ms
		{600_000_000, 16},   // between 500ms and 1s
		{1_000_000_000, 17}, // 1s and beyond
		{30_000_000_000, 17},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, binCurrInterval(tt.gap), "gap %d", tt.gap)
	}
}

func TestBinAction(t *testing.T) {
	assert.Equal(t, uint32(0), binAction(0, 7))
	assert.Equal(t, uint32(0), binAction(3, 7))
	assert.Equal(t, uint32(1), binAction(4, 7))
	assert.Equal(t, uint32(1), binAction(7, 7))
}
