package provider_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weftrun/weft/internal/provider"
)

func TestIsRateLimitedRecognisesWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("provider call: %w: boom", provider.ErrRateLimited)
	assert.True(t, provider.IsRateLimited(err))
	assert.True(t, provider.IsTransient(err))
}

func TestIsRateLimitedRejectsUnrelatedError(t *testing.T) {
	err := fmt.Errorf("some other failure")
	assert.False(t, provider.IsRateLimited(err))
	assert.False(t, provider.IsTransient(err))
}
