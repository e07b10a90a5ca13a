package jwtutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("secret", "ws-42", time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "ws-42", claims.WorkspaceID)
	assert.Equal(t, "ws-42", claims.Subject)
}

func TestGenerateTokenRequiresWorkspace(t *testing.T) {
	_, err := GenerateToken("secret", "", time.Minute)
	assert.Error(t, err)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("secret", "ws-42", time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("other-secret", token)
	assert.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := GenerateToken("secret", "ws-42", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("secret", token)
	assert.Error(t, err)
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	_, err := ParseToken("secret", "not-a-token")
	assert.Error(t, err)
}
