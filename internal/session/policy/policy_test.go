package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "grouplock/pkg/domain"
	dErrors "grouplock/pkg/domain-errors"
)

func TestRequiredSignatures(t *testing.T) {
	tests := []struct {
		name   string
		policy GroupPolicy
		want   int
	}{
		{"type A needs none", GroupPolicy{AuthType: id.AuthTypeA}, 0},
		{"type B needs one", GroupPolicy{AuthType: id.AuthTypeB}, 1},
		{"type C uses configured count", GroupPolicy{AuthType: id.AuthTypeC, RequiredSignatures: 3}, 3},
		{"type D uses quorum", GroupPolicy{AuthType: id.AuthTypeD, QuorumK: 2}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RequiredSignatures(tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequiredSignatures_Misconfigured(t *testing.T) {
	tests := []struct {
		name   string
		policy GroupPolicy
	}{
		{"type C without count", GroupPolicy{AuthType: id.AuthTypeC}},
		{"type D without quorum", GroupPolicy{AuthType: id.AuthTypeD}},
		{"unknown auth type", GroupPolicy{AuthType: id.AuthType("TYPE_X")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RequiredSignatures(tt.policy)
			require.Error(t, err)
			assert.True(t, dErrors.Is(err, dErrors.CodeInternal))
		})
	}
}

func TestSatisfied(t *testing.T) {
	assert.True(t, Satisfied(0, 0))
	assert.True(t, Satisfied(2, 2))
	assert.True(t, Satisfied(3, 2))
	assert.False(t, Satisfied(1, 2))
}

func TestValidateQuorum(t *testing.T) {
	require.NoError(t, ValidateQuorum(1))
	require.NoError(t, ValidateQuorum(10))

	err := ValidateQuorum(0)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest))

	err = ValidateQuorum(-3)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest))
}
