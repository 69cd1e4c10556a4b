package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	s, err := Parse("PROJECT_READ VERSION_READ")
	require.NoError(t, err)
	assert.True(t, s.Contains(ProjectRead))
	assert.True(t, s.Contains(VersionRead))
	assert.False(t, s.Contains(ProjectWrite))
}

func TestParseRejectsUnknownToken(t *testing.T) {
	_, err := Parse("PROJECT_READ NOT_A_SCOPE")
	assert.Error(t, err)
}

func TestIsRestricted(t *testing.T) {
	assert.True(t, SessionRead.IsRestricted())
	assert.True(t, PatCreate.IsRestricted())
	assert.True(t, UserAuthWrite.IsRestricted())
	assert.False(t, ProjectRead.IsRestricted())
	assert.False(t, NonRestricted.IsRestricted())
}

func TestContainsCeiling(t *testing.T) {
	maxScopes := ProjectRead | ProjectWrite
	assert.True(t, maxScopes.Contains(ProjectRead))
	assert.False(t, maxScopes.Contains(ProjectRead|PayoutsWrite))
}

func TestStringRoundTrip(t *testing.T) {
	s := ProjectRead | VersionWrite | ThreadRead
	reparsed, err := Parse(s.String())
	require.NoError(t, err)
	assert.Equal(t, s, reparsed)
}

func TestAllMinusRestrictedIsNonRestricted(t *testing.T) {
	assert.Equal(t, NonRestricted, All&^Restricted)
}
