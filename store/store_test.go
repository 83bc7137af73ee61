package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	icauth "github.com/onicai/go-icauth"
	"github.com/onicai/go-icauth/store"
)

func testRecord() *icauth.SessionRecord {
	return icauth.NewSessionRecord(
		icauth.LoginDelegatedSigner,
		time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	)
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec, "empty store loads nothing")

	want := testRecord()
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.LoginType, got.LoginType)
	assert.Equal(t, want.Expiry, got.Expiry)
	assert.Equal(t, want.CreatedAt, got.CreatedAt)

	// Saving also keeps the legacy flag in sync.
	loginType, ok, err := s.LegacyLoginType(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, icauth.LoginDelegatedSigner, loginType)

	require.NoError(t, s.Clear(ctx))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, ok, err = s.LegacyLoginType(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCorruptRecordIsCleared(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "{definitely not json"},
		{"unknown login type", `{"loginType":"plug","expiry":"1","timestamp":1}`},
		{"non-numeric expiry", `{"loginType":"nfid","expiry":"soon","timestamp":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemory()
			s.SetRaw(store.KeySessionInfo, tt.raw)

			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)

			// The corrupt value was discarded, not retried.
			got, err = s.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestMemoryLegacyFlag(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	s.SetRaw(store.KeyIsAuthed, "bitcoin")
	loginType, ok, err := s.LegacyLoginType(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, icauth.LoginMessageSignedWallet, loginType)

	s.SetRaw(store.KeyIsAuthed, "something-else")
	_, ok, err = s.LegacyLoginType(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "unknown legacy value reads as absent")
}

func openBunStore(t *testing.T) *store.BunStore {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := store.NewBunStore(context.Background(), db, nil)
	require.NoError(t, err)
	return s
}

func TestBunStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openBunStore(t)

	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)

	want := testRecord()
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.LoginType, got.LoginType)
	assert.Equal(t, want.Expiry, got.Expiry)
	assert.Equal(t, want.CreatedAt, got.CreatedAt)

	loginType, ok, err := s.LegacyLoginType(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want.LoginType, loginType)
}

func TestBunStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s := openBunStore(t)

	first := icauth.NewSessionRecord(icauth.LoginDelegatedSigner, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save(ctx, first))

	second := icauth.NewSessionRecord(icauth.LoginPlatformIdentity, time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, icauth.LoginPlatformIdentity, got.LoginType)
	assert.Equal(t, second.Expiry, got.Expiry)
}

func TestBunStoreClear(t *testing.T) {
	ctx := context.Background()
	s := openBunStore(t)

	// Clearing an empty store is fine.
	require.NoError(t, s.Clear(ctx))

	require.NoError(t, s.Save(ctx, testRecord()))
	require.NoError(t, s.Clear(ctx))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, ok, err := s.LegacyLoginType(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
