package errors

import (
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorKeepsTypedError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Clone(ErrConflict, "composition already finalized"))
	appErr := FromError(err)
	assert.Equal(t, ErrConflict.Code, appErr.Code)
	assert.Equal(t, "composition already finalized", appErr.Message)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(sql.ErrConnDone)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.ErrorIs(t, appErr, sql.ErrConnDone)
}

func TestCloneDoesNotMutateOriginal(t *testing.T) {
	clone := Clone(ErrValidation, "order out of range")
	assert.Equal(t, "validation failed", ErrValidation.Message)
	assert.Equal(t, "order out of range", clone.Message)
}

func TestHasStatus(t *testing.T) {
	assert.True(t, HasStatus(Clone(ErrPercentageExceeded, ""), http.StatusBadRequest))
	assert.False(t, HasStatus(sql.ErrNoRows, http.StatusNotFound))
}

func TestIsMatchesClonesByCode(t *testing.T) {
	err := fmt.Errorf("join: %w", Clone(ErrAlreadyMember, "already in this class"))
	assert.ErrorIs(t, err, ErrAlreadyMember)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, "ALREADY_MEMBER", CodeOf(err))
	assert.Equal(t, "", CodeOf(sql.ErrNoRows))
}
