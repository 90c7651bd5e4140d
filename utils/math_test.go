package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUtils_MinMax(t *testing.T) {
	assert.Equal(t, 2, Min(2, 5))
	assert.Equal(t, 2, Min(5, 2))
	assert.Equal(t, 5, Max(2, 5))
	assert.Equal(t, -1.5, Min(-1.5, 0.0))
	assert.Equal(t, 7, Abs(-7))
	assert.Equal(t, 0.5, Abs(-0.5))
}

func TestUtils_MinOfMaxOf(t *testing.T) {
	assert.Equal(t, 3, MinOf(3))
	assert.Equal(t, -4, MinOf(3, 8, -4, 0))
	assert.Equal(t, 8, MaxOf(3, 8, -4, 0))
	assert.Equal(t, "b", MaxOf("a", "b"))
}
