package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPtr(t *testing.T) {
	p := Ptr("timer")
	assert.Equal(t, "timer", *p)

	// each call yields a fresh pointer
	assert.NotSame(t, Ptr(1), Ptr(1))
}
