package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain sentinel", ErrPolicyViolation, KindPolicyViolation},
		{"wrapped", fmt.Errorf("check: %w", ErrParse), KindParse},
		{"timeout wins over infrastructure", fmt.Errorf("%w: %w", ErrInfrastructure, ErrTimeout), KindTimeout},
		{"cost", fmt.Errorf("plan: %w", ErrCostRejected), KindCostRejected},
		{"unknown", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsFatalInfrastructure(t *testing.T) {
	assert.True(t, IsFatalInfrastructure(fmt.Errorf("dial: %w", ErrInfrastructure)))
	assert.True(t, IsFatalInfrastructure(ErrTimeout))
	assert.False(t, IsFatalInfrastructure(ErrPolicyViolation))
	assert.False(t, IsFatalInfrastructure(nil))
}
