package keychain

import (
	"context"
	"testing"

	"soyosaki-backend/internal/novel"

	"github.com/stretchr/testify/require"
)

func TestMissingRowIsEmptyCredential(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	cred, err := store.Get(context.Background(), novel.SourceLofter)
	require.NoError(t, err)
	require.True(t, cred.Empty())
}

func TestSetGetClear(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	err = store.Set(ctx, novel.SourceLofter, Credential{
		Cookie:    "NTES_SESS=abc",
		CaptToken: "tok",
	})
	require.NoError(t, err)

	cred, err := store.Get(ctx, novel.SourceLofter)
	require.NoError(t, err)
	require.False(t, cred.Empty())
	require.Equal(t, "NTES_SESS=abc", cred.Cookie)
	require.Equal(t, "tok", cred.CaptToken)

	// upsert replaces
	err = store.Set(ctx, novel.SourceLofter, Credential{Cookie: "NTES_SESS=def"})
	require.NoError(t, err)
	cred, err = store.Get(ctx, novel.SourceLofter)
	require.NoError(t, err)
	require.Equal(t, "NTES_SESS=def", cred.Cookie)
	require.Equal(t, "", cred.CaptToken)

	err = store.Clear(ctx, novel.SourceLofter)
	require.NoError(t, err)
	cred, err = store.Get(ctx, novel.SourceLofter)
	require.NoError(t, err)
	require.True(t, cred.Empty())
}

func TestSourcesAreIndependent(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, novel.SourcePixiv, Credential{RefreshToken: "rt"}))

	cred, err := store.Get(ctx, novel.SourceBilibili)
	require.NoError(t, err)
	require.True(t, cred.Empty())
}
