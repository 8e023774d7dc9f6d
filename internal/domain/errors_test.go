package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersistence(t *testing.T) {
	backend := errors.New("deadline exceeded")

	tests := []struct {
		name       string
		err        error
		wantNil    bool
		wantTyped  bool
		wantTarget error
	}{
		{name: "nil stays nil", err: nil, wantNil: true},
		{name: "backend error is wrapped", err: backend, wantTyped: true, wantTarget: backend},
		{name: "not connected passes through", err: fmt.Errorf("get: %w", ErrNotConnected), wantTarget: ErrNotConnected},
		{name: "cursor conflict passes through", err: ErrCursorConflict, wantTarget: ErrCursorConflict},
		{name: "lock conflict passes through", err: ErrSyncInProgress, wantTarget: ErrSyncInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Persistence("apply batch", tt.err)
			if tt.wantNil {
				assert.NoError(t, got)
				return
			}

			var pe *PersistenceError
			assert.Equal(t, tt.wantTyped, errors.As(got, &pe))
			assert.ErrorIs(t, got, tt.wantTarget)
		})
	}
}

func TestPersistence_DoesNotDoubleWrap(t *testing.T) {
	first := Persistence("save", errors.New("boom"))
	second := Persistence("outer", first)

	assert.Same(t, first, second)
	assert.Equal(t, "persistence failure during save: boom", second.Error())
}
