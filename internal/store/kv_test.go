package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKV_SetGetDelete(t *testing.T) {
	t.Parallel()

	kv := newTestStore(t).KV()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "user_data")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "user_data", "a"))
	require.NoError(t, kv.Set(ctx, "user_data", "b"))
	require.NoError(t, kv.Set(ctx, "total_cases", "3"))

	v, ok, err := kv.Get(ctx, "user_data")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	require.NoError(t, kv.Delete(ctx, "user_data", "total_cases", "missing"))

	_, ok, err = kv.Get(ctx, "total_cases")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Delete(ctx))
}

func TestKV_JSON(t *testing.T) {
	t.Parallel()

	kv := newTestStore(t).KV()
	ctx := context.Background()

	type profile struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	var p profile
	ok, err := kv.GetJSON(ctx, "user_data", &p)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.SetJSON(ctx, "user_data", profile{ID: 7, Name: "Asha"}))

	ok, err = kv.GetJSON(ctx, "user_data", &p)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, profile{ID: 7, Name: "Asha"}, p)

	require.NoError(t, kv.Set(ctx, "broken", "{"))
	_, err = kv.GetJSON(ctx, "broken", &p)
	require.Error(t, err)
}
