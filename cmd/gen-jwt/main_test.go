package main

import (
	"testing"
	"time"

	"github.com/onkernel/termlab/lib/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintIsAcceptedByTheAPI(t *testing.T) {
	token, err := mint([]byte("s3cret"), "alice", time.Now(), time.Hour)
	require.NoError(t, err)

	sub, err := middleware.ParseToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestMintHonoursTTL(t *testing.T) {
	token, err := mint([]byte("s3cret"), "alice", time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)

	_, err = middleware.ParseToken(token, "s3cret")
	assert.Error(t, err, "a token minted two hours ago with a one hour ttl has expired")
}
