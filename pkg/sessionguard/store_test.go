// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sessionguard_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/taskd/pkg/sessionguard"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := sessionguard.NewMemoryStore()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, sessionguard.ErrNoCredentials)
	require.NoError(t, store.Clear(ctx), "clearing an empty store")

	creds := sessionguard.Credentials{AccessToken: "a1", RefreshToken: "r1"}
	require.NoError(t, store.Save(ctx, creds))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, sessionguard.ErrNoCredentials)
}
