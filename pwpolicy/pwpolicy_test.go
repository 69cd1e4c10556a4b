package pwpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateRejectsCommonPasswords(t *testing.T) {
	assert.Equal(t, 0, Estimate("password"))
	assert.Equal(t, 0, Estimate("PASSWORD"))
}

func TestEstimateRejectsForbiddenTokens(t *testing.T) {
	assert.Equal(t, 0, Estimate("alice1234!", "alice"))
}

func TestEstimateRejectsSequentialRuns(t *testing.T) {
	assert.Equal(t, 1, Estimate("abcdEFGH1234"))
}

func TestEstimateScoresStrongPasswordAboveMinimum(t *testing.T) {
	assert.GreaterOrEqual(t, Estimate("Tr0ub4dor&3xcelsior!"), MinScore)
}

func TestEstimateScoresShortPasswordLow(t *testing.T) {
	assert.Less(t, Estimate("ab1"), MinScore)
}
