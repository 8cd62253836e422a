// Package dbtest holds the behaviour every db.DB implementation shares.
package dbtest

import (
	"testing"

	"github.com/celer-network/go-bridge-relayer/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nsA = []byte("a")
	nsB = []byte("ab")
)

// Run exercises d. d must be empty.
func Run(t *testing.T, d db.DB) {
	t.Run("GetSet", func(t *testing.T) { testGetSet(t, d) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, d) })
	t.Run("Iterator", func(t *testing.T) { testIterator(t, d) })
	t.Run("Transaction", func(t *testing.T) { testTransaction(t, d) })
	t.Run("Bulk", func(t *testing.T) { testBulk(t, d) })
}

func testGetSet(t *testing.T, d db.DB) {
	_, ok, err := d.Get(nsA, []byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	value := []byte("v1")
	require.NoError(t, d.Set(nsA, []byte("k1"), value))
	value[0] = 'x'

	got, ok, err := d.Get(nsA, []byte("k1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), got)

	exist, err := d.Exist(nsA, []byte("k1"))
	require.NoError(t, err)
	assert.True(t, exist)

	require.NoError(t, d.Delete(nsA, []byte("k1")))
	exist, err = d.Exist(nsA, []byte("k1"))
	require.NoError(t, err)
	assert.False(t, exist)
}

func testNamespaces(t *testing.T, d db.DB) {
	require.NoError(t, d.Set(nsA, []byte("k"), []byte("in a")))
	require.NoError(t, d.Set(nsB, []byte("k"), []byte("in ab")))

	got, _, err := d.Get(nsA, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("in a"), got)
	got, _, err = d.Get(nsB, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("in ab"), got)

	require.NoError(t, d.Delete(nsA, []byte("k")))
	require.NoError(t, d.Delete(nsB, []byte("k")))
}

func collect(t *testing.T, iter db.Iterator) (keys []string) {
	defer iter.Close()
	for ; iter.Valid(); require.NoError(t, iter.Next()) {
		key, err := iter.Key()
		require.NoError(t, err)
		value, err := iter.Value()
		require.NoError(t, err)
		assert.Equal(t, "v"+string(key), string(value))
		keys = append(keys, string(key))
	}
	return keys
}

func testIterator(t *testing.T, d db.DB) {
	for _, k := range []string{"3", "1", "4", "2"} {
		require.NoError(t, d.Set(nsA, []byte(k), []byte("v"+k)))
	}
	// a neighbouring namespace sharing the prefix never leaks in
	require.NoError(t, d.Set(nsB, []byte("0"), []byte("v0")))

	assert.Equal(t, []string{"1", "2", "3", "4"}, collect(t, d.Iterator(nsA, nil, nil)))
	assert.Equal(t, []string{"2", "3"}, collect(t, d.Iterator(nsA, []byte("2"), []byte("4"))))
	assert.Empty(t, collect(t, d.Iterator(nsA, []byte("5"), nil)))

	iter := d.Iterator(nsA, []byte("5"), nil)
	assert.Error(t, iter.Next())
	iter.Close()

	for _, k := range []string{"1", "2", "3", "4"} {
		require.NoError(t, d.Delete(nsA, []byte(k)))
	}
	require.NoError(t, d.Delete(nsB, []byte("0")))
}

func testTransaction(t *testing.T, d db.DB) {
	tx := d.NewTx()
	require.NoError(t, tx.Set(nsA, []byte("t1"), []byte("v")))
	require.NoError(t, tx.Set(nsA, []byte("t2"), []byte("v")))
	exist, err := d.Exist(nsA, []byte("t1"))
	require.NoError(t, err)
	assert.False(t, exist, "visible before commit")
	require.NoError(t, tx.Commit())

	exist, err = d.Exist(nsA, []byte("t2"))
	require.NoError(t, err)
	assert.True(t, exist)

	tx = d.NewTx()
	require.NoError(t, tx.Delete(nsA, []byte("t1")))
	tx.Discard()
	exist, err = d.Exist(nsA, []byte("t1"))
	require.NoError(t, err)
	assert.True(t, exist, "discarded delete")

	tx = d.NewTx()
	require.NoError(t, tx.Delete(nsA, []byte("t1")))
	require.NoError(t, tx.Delete(nsA, []byte("t2")))
	require.NoError(t, tx.Commit())
}

func testBulk(t *testing.T, d db.DB) {
	bulk := d.NewBulk()
	for _, k := range []string{"b1", "b2", "b3"} {
		require.NoError(t, bulk.Set(nsA, []byte(k), []byte("v"+k)))
	}
	require.NoError(t, bulk.Delete(nsA, []byte("b2")))
	require.NoError(t, bulk.Flush())

	assert.Equal(t, []string{"b1", "b3"}, collect(t, d.Iterator(nsA, nil, nil)))
}
