package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Clone(ErrValidation, "bad date range"))
	got := FromError(wrapped)
	assert.Equal(t, ErrValidation.Code, got.Code)
	assert.Equal(t, http.StatusBadRequest, got.Status)
	assert.Equal(t, "bad date range", got.Message)
}

func TestFromErrorWrapsUnknownAsInternal(t *testing.T) {
	got := FromError(fmt.Errorf("db down"))
	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("ctx: %w", Clone(ErrNoData, ""))
	assert.True(t, Is(err, ErrNoData))
	assert.False(t, Is(err, ErrNotFound))
	assert.False(t, Is(nil, ErrNoData))
}

func TestWithDetailsDoesNotShareSentinelState(t *testing.T) {
	issues := []string{"page must be >= 1", "sort field \"x\" is not sortable"}
	err := WithDetails(ErrValidation, "invalid filter", issues...)

	assert.Equal(t, "invalid filter", err.Message)
	assert.Equal(t, issues, err.Details)
	assert.Nil(t, ErrValidation.Details)
	assert.Nil(t, Clone(err, "").Details)
}
