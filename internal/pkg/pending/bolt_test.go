package pending

import (
	"context"
	"path/filepath"
	"testing"

	bolt "github.com/boltdb/bolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBolt(t *testing.T) *BoltBackend {
	t.Helper()
	b, err := OpenBoltBackend(filepath.Join(t.TempDir(), "pending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBoltBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)
	slot := b.Slot("device-1")

	p := record("cwa-1000", StatusPending)
	p.Plan = Plan{ID: "daily", Name: "Daily VIP", Price: 20, Currency: "GHS", Period: "DAILY", Features: []string{"VIP"}}
	require.NoError(t, Save(ctx, slot, p))

	got, err := Find(ctx, slot, "cwa-1000")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	ids, err := b.Slots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"device-1"}, ids)

	require.NoError(t, Remove(ctx, slot, "cwa-1000"))
	ids, err = b.Slots(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBoltBackend_CorruptSlotReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)

	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte("device-x"), []byte("{not json"))
	})
	require.NoError(t, err)

	_, readErr := b.Slot("device-x").ReadAll(ctx)
	assert.Error(t, readErr)
	assert.Empty(t, Load(ctx, b.Slot("device-x")))

	// A write after corruption replaces the slot wholesale.
	require.NoError(t, Save(ctx, b.Slot("device-x"), record("cwa-1", StatusPending)))
	assert.Len(t, Load(ctx, b.Slot("device-x")), 1)
}

func TestBoltBackend_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pending.db")

	b, err := OpenBoltBackend(path)
	require.NoError(t, err)
	require.NoError(t, Save(ctx, b.Slot("device-1"), record("cwa-1", StatusPending)))
	require.NoError(t, b.Close())

	b, err = OpenBoltBackend(path)
	require.NoError(t, err)
	defer b.Close()

	got, err := Find(ctx, b.Slot("device-1"), "cwa-1")
	require.NoError(t, err)
	assert.Equal(t, "cwa-1", got.TxRef)
}
