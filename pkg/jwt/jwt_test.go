package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	m := NewManager("secret", time.Hour)

	token, err := m.Issue("user", 42)
	require.NoError(t, err)

	claims, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user", claims.Kind)
	assert.Equal(t, int64(42), claims.ObjectID)
}

func TestParseRejectsOtherSecret(t *testing.T) {
	token, err := NewManager("a", time.Hour).Issue("user", 1)
	require.NoError(t, err)

	_, err = NewManager("b", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpired(t *testing.T) {
	token, err := NewManager("a", -time.Minute).Issue("user", 1)
	require.NoError(t, err)

	_, err = NewManager("a", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
