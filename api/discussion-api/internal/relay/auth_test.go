// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerifyToken(t *testing.T) {
	auth := NewAuthenticator("relay-secret")

	token, err := auth.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	identity, err := auth.VerifyBearer("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewAuthenticator("secret-a").IssueToken("alice", time.Hour)
	require.NoError(t, err)

	_, err = NewAuthenticator("secret-b").VerifyBearer("Bearer " + token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	auth := NewAuthenticator("relay-secret")
	token, err := auth.IssueToken("alice", -time.Minute)
	require.NoError(t, err)

	_, err = auth.VerifyBearer("Bearer " + token)
	assert.Error(t, err)
}

func TestVerifyRejectsMissingBearer(t *testing.T) {
	auth := NewAuthenticator("relay-secret")

	_, err := auth.VerifyBearer("")
	assert.Error(t, err)

	_, err = auth.VerifyBearer("Basic dXNlcjpwYXNz")
	assert.Error(t, err)

	_, err = auth.VerifyBearer("Bearer not-a-jwt")
	assert.Error(t, err)
}
