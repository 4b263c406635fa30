package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dbSetup is the database setup function. It takes path to the temporary
// directory and returns an initialized store.
type dbSetup struct {
	name   string
	create func(t *testing.T, dir string) Store
}

func newLevelDBForTesting(t *testing.T, dir string) Store {
	opts := LevelDBOptions{
		DataDirectoryPath: dir,
	}
	newLevelStore, err := NewLevelDBStore(opts)
	require.NoError(t, err, "NewLevelDBStore error")
	return newLevelStore
}

func newBoltStoreForTesting(t *testing.T, dir string) Store {
	boltDBStore, err := NewBoltDBStore(BoltDBOptions{FilePath: filepath.Join(dir, "test_bolt_db")})
	require.NoError(t, err)
	return boltDBStore
}

var dbSetups = []dbSetup{
	{"MemoryStore", func(t *testing.T, dir string) Store { return NewMemoryStore() }},
	{"MemCachedStore", func(t *testing.T, dir string) Store { return NewMemCachedStore(NewMemoryStore()) }},
	{"LevelDBStore", newLevelDBForTesting},
	{"BoltDBStore", newBoltStoreForTesting},
}

func testStoreGetNonExistent(t *testing.T, s Store) {
	key := []byte("sparse")

	_, err := s.Get(key)
	assert.Equal(t, err, ErrKeyNotFound)
}

func testStorePutAndGet(t *testing.T, s Store) {
	key := []byte("foo")
	value := []byte("bar")

	require.NoError(t, s.PutChangeSet(map[string][]byte{string(key): value}))

	result, err := s.Get(key)
	assert.Nil(t, err)
	require.Equal(t, value, result)
}

func testStoreMultiGet(t *testing.T, s Store) {
	require.NoError(t, s.PutChangeSet(map[string][]byte{
		"key1": []byte("value1"),
		"key3": []byte("value3"),
	}))

	res, err := s.MultiGet([][]byte{[]byte("key1"), []byte("key2"), []byte("key3")})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("value1"), nil, []byte("value3")}, res)
}

func testStorePutChangeSet(t *testing.T, s Store) {
	puts := map[string][]byte{
		"\x01key1": []byte("value1"),
		"\x01key2": []byte("value2"),
	}

	require.NoError(t, s.PutChangeSet(puts))
	for k, v := range puts {
		res, err := s.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, v, res)
	}

	// nil value is a removal
	require.NoError(t, s.PutChangeSet(map[string][]byte{"\x01key1": nil}))
	_, err := s.Get([]byte("\x01key1"))
	require.Equal(t, ErrKeyNotFound, err)
	res, err := s.Get([]byte("\x01key2"))
	require.NoError(t, err)
	require.Equal(t, []byte("value2"), res)
}

func testStoreSeek(t *testing.T, s Store) {
	prefix := []byte{0x01}
	kvs := []KeyValue{
		{Key: AppendPrefix(0x01, []byte("a")), Value: []byte("valA")},
		{Key: AppendPrefix(0x01, []byte("b")), Value: []byte("valB")},
		{Key: AppendPrefix(0x01, []byte("d")), Value: []byte("valD")},
	}
	puts := make(map[string][]byte)
	for i := range kvs {
		puts[string(kvs[i].Key)] = kvs[i].Value
	}
	// an unrelated column entry which must not appear in the results
	puts[string(AppendPrefix(0x02, []byte("c")))] = []byte("other")
	require.NoError(t, s.PutChangeSet(puts))

	collect := func(rng SeekRange) []KeyValue {
		var res []KeyValue
		s.Seek(rng, func(k, v []byte) bool {
			kc := make([]byte, len(k))
			copy(kc, k)
			vc := make([]byte, len(v))
			copy(vc, v)
			res = append(res, KeyValue{Key: kc, Value: vc})
			return true
		})
		return res
	}

	t.Run("prefix", func(t *testing.T) {
		res := collect(SeekRange{Prefix: prefix})
		require.Equal(t, kvs, res)
	})
	t.Run("start", func(t *testing.T) {
		res := collect(SeekRange{Prefix: prefix, Start: []byte("b")})
		require.Equal(t, kvs[1:], res)
	})
	t.Run("backwards", func(t *testing.T) {
		res := collect(SeekRange{Prefix: prefix, Backwards: true})
		require.Equal(t, []KeyValue{kvs[2], kvs[1], kvs[0]}, res)
	})
	t.Run("backwards with start", func(t *testing.T) {
		res := collect(SeekRange{Prefix: prefix, Start: []byte("b"), Backwards: true})
		require.Equal(t, []KeyValue{kvs[1], kvs[0]}, res)
	})
	t.Run("early stop", func(t *testing.T) {
		var res []KeyValue
		s.Seek(SeekRange{Prefix: prefix}, func(k, v []byte) bool {
			kc := make([]byte, len(k))
			copy(kc, k)
			vc := make([]byte, len(v))
			copy(vc, v)
			res = append(res, KeyValue{Key: kc, Value: vc})
			return len(res) < 2
		})
		require.Equal(t, kvs[:2], res)
	})
}

func testStoreDeleteNonExistent(t *testing.T, s Store) {
	key := []byte("sparse")

	assert.NoError(t, s.PutChangeSet(map[string][]byte{string(key): nil}))
}

func TestAllDBs(t *testing.T) {
	var tests = []func(*testing.T, Store){
		testStoreGetNonExistent,
		testStorePutAndGet,
		testStoreMultiGet,
		testStorePutChangeSet,
		testStoreSeek,
		testStoreDeleteNonExistent,
	}
	for _, db := range dbSetups {
		db := db
		t.Run(db.name, func(t *testing.T) {
			for _, test := range tests {
				s := db.create(t, t.TempDir())
				test(t, s)
				require.NoError(t, s.Close())
			}
		})
	}
}
