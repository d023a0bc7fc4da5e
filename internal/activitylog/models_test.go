package activitylog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-5))
	assert.Equal(t, 1, ClampLimit(1))
	assert.Equal(t, 25, ClampLimit(25))
	assert.Equal(t, MaxLimit, ClampLimit(MaxLimit))
	assert.Equal(t, MaxLimit, ClampLimit(MaxLimit+1))
	assert.Equal(t, MaxLimit, ClampLimit(10_000))
}
