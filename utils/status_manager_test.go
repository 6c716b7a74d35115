package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusManager(t *testing.T) {
	s := NewStatusManager("a")
	assert.Equal(t, "a", s.Get())
	assert.True(t, s.Is("b", "a"))
	assert.False(t, s.Is("b"))

	assert.False(t, s.Transition("c", "b"))
	assert.Equal(t, "a", s.Get())
	assert.True(t, s.Transition("c", "b", "a"))
	assert.Equal(t, "c", s.Get())

	s.Set("d")
	assert.True(t, s.Is("d"))
}

func TestDistinct(t *testing.T) {
	assert.Equal(t, []int{3, 1, 2}, Distinct([]int{3, 1, 3, 2, 1}))
	assert.Empty(t, Distinct([]string{}))
}
