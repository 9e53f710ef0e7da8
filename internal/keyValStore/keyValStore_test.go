package keyValStore

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

func openStore(t *testing.T, engine, dir string) Store {
	t.Helper()
	s, err := NewKeyValStore(StoreConfig{
		Paths:  []string{dir},
		Engine: engine,
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	return s
}

func TestStoreEngines(t *testing.T) {
	for _, engine := range []string{EngineBadger, EngineBolt} {
		t.Run(engine, func(t *testing.T) {
			dir := t.TempDir()
			s := openStore(t, engine, dir)

			require.NoError(t, s.Write([]byte("sub:02"), []byte("b")))
			require.NoError(t, s.Write([]byte("sub:01"), []byte("a")))
			require.NoError(t, s.Write([]byte("audit:01"), []byte("x")))

			items, err := s.GetItemsWithPrefix([]byte("sub:"))
			require.NoError(t, err)
			require.Len(t, items, 2)
			assert.Equal(t, []byte("sub:01"), items[0][0])
			assert.Equal(t, []byte("a"), items[0][1])
			assert.Equal(t, []byte("sub:02"), items[1][0])

			items, err = s.GetItemsWithPrefix([]byte("missing"))
			require.NoError(t, err)
			assert.Empty(t, items)

			require.NoError(t, s.Close())

			// reopen and check durability, then drop one prefix only
			s = openStore(t, engine, dir)
			defer s.Close()

			items, err = s.GetItemsWithPrefix([]byte("sub:"))
			require.NoError(t, err)
			assert.Len(t, items, 2)

			require.NoError(t, s.DropPrefix([]byte("sub:")))
			items, err = s.GetItemsWithPrefix([]byte("sub:"))
			require.NoError(t, err)
			assert.Empty(t, items)

			items, err = s.GetItemsWithPrefix([]byte("audit:"))
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, []byte("x"), items[0][1])
		})
	}
}

func TestInMemoryBadger(t *testing.T) {
	s, err := NewKeyValStore(StoreConfig{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Write([]byte(fmt.Sprintf("k:%d", i)), []byte{byte(i)}))
	}
	items, err := s.GetItemsWithPrefix([]byte("k:"))
	require.NoError(t, err)
	assert.Len(t, items, 5)

	require.NotPanics(t, func() {
		assert.NoError(t, s.Close())
	})
}

func TestInMemoryBadgerCloseEmpty(t *testing.T) {
	s, err := NewKeyValStore(StoreConfig{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)
	require.NotPanics(t, func() {
		assert.NoError(t, s.Close())
	})
}

func TestCheckConfig(t *testing.T) {
	_, err := NewKeyValStore(StoreConfig{Logger: quietLogger()})
	assert.Error(t, err, "no path")

	_, err = NewKeyValStore(StoreConfig{Paths: []string{t.TempDir() + "/nope"}, Logger: quietLogger()})
	assert.Error(t, err, "missing directory")

	_, err = NewKeyValStore(StoreConfig{Paths: []string{t.TempDir()}, MinimumFreeSpace: 1 << 30, Logger: quietLogger()})
	assert.Error(t, err, "free space requirement cannot be met")

	_, err = NewKeyValStore(StoreConfig{Paths: []string{t.TempDir()}, Engine: "leveldb", Logger: quietLogger()})
	assert.Error(t, err)

	_, err = NewKeyValStore(StoreConfig{InMemory: true, Engine: EngineBolt, Logger: quietLogger()})
	assert.Error(t, err)
}
