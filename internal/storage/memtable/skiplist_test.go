package memtable_test

import (
	"fmt"
	"testing"

	"github.com/devrev/pairdb/index-node/internal/storage/memtable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkipList_Insert(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		verify func(*testing.T, *memtable.SkipList[string])
	}{
		{
			name:  "insert single element",
			key:   "key1",
			value: "value1",
			verify: func(t *testing.T, sl *memtable.SkipList[string]) {
				val, found := sl.Search("key1")
				assert.True(t, found)
				assert.Equal(t, "value1", val)
			},
		},
		{
			name:  "insert multiple elements",
			key:   "key2",
			value: "value2",
			verify: func(t *testing.T, sl *memtable.SkipList[string]) {
				sl.Insert("key3", "value3")
				sl.Insert("key1", "value1")

				assert.Equal(t, 3, sl.Len())
				val, found := sl.Search("key1")
				assert.True(t, found)
				assert.Equal(t, "value1", val)
			},
		},
		{
			name:  "binary keys keep byte order",
			key:   "\x00\x00\x00\x02",
			value: "two",
			verify: func(t *testing.T, sl *memtable.SkipList[string]) {
				sl.Insert("\x00\x00\x01\x00", "256")
				sl.Insert("\x00\x00\x00\x01", "one")

				assert.Equal(t, "one", sl.First().Value)
				assert.Equal(t, "256", sl.Last().Value)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sl := memtable.NewSkipList[string]()
			sl.Insert(tt.key, tt.value)
			tt.verify(t, sl)
		})
	}
}

func TestSkipList_Update(t *testing.T) {
	sl := memtable.NewSkipList[string]()

	assert.False(t, sl.Insert("key1", "value1"))
	val, found := sl.Search("key1")
	require.True(t, found)
	assert.Equal(t, "value1", val)

	assert.True(t, sl.Insert("key1", "value2"))
	val, found = sl.Search("key1")
	require.True(t, found)
	assert.Equal(t, "value2", val)

	assert.Equal(t, 1, sl.Len())
}

func TestSkipList_Delete(t *testing.T) {
	sl := memtable.NewSkipList[string]()

	sl.Insert("key1", "value1")
	sl.Insert("key2", "value2")
	sl.Insert("key3", "value3")

	tests := []struct {
		name    string
		key     string
		wantOk  bool
		wantLen int
	}{
		{name: "delete existing key", key: "key2", wantOk: true, wantLen: 2},
		{name: "delete non-existing key", key: "key4", wantOk: false, wantLen: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok := sl.Delete(tt.key)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.wantLen, sl.Len())

			if ok {
				_, found := sl.Search(tt.key)
				assert.False(t, found)
			}
		})
	}
}

func TestSkipList_Iterator(t *testing.T) {
	sl := memtable.NewSkipList[string]()

	sl.Insert("cherry", "fruit3")
	sl.Insert("apple", "fruit1")
	sl.Insert("banana", "fruit2")

	iter := sl.Iterator()
	keys := []string{}
	for iter.Next() {
		keys = append(keys, iter.Key())
	}

	assert.Equal(t, []string{"apple", "banana", "cherry"}, keys)
}

func TestSkipList_Seek(t *testing.T) {
	sl := memtable.NewSkipList[int]()
	for i := 0; i < 100; i += 10 {
		sl.Insert(fmt.Sprintf("k%03d", i), i)
	}

	t.Run("seek lands on exact key", func(t *testing.T) {
		iter := sl.Seek("k030")
		require.True(t, iter.Next())
		assert.Equal(t, 30, iter.Value())
	})

	t.Run("seek lands on next key", func(t *testing.T) {
		iter := sl.Seek("k031")
		require.True(t, iter.Next())
		assert.Equal(t, "k040", iter.Key())
	})

	t.Run("seek past the end", func(t *testing.T) {
		iter := sl.Seek("z")
		assert.False(t, iter.Next())
	})

	t.Run("seek lower than", func(t *testing.T) {
		node := sl.SeekLT("k030")
		require.NotNil(t, node)
		assert.Equal(t, "k020", node.Key)

		assert.Nil(t, sl.SeekLT("k000"))
		assert.Equal(t, "k090", sl.SeekLT("z").Key)
	})
}

func TestSkipList_Empty(t *testing.T) {
	sl := memtable.NewSkipList[string]()

	_, found := sl.Search("key1")
	assert.False(t, found)

	assert.False(t, sl.Delete("key1"))

	iter := sl.Iterator()
	assert.False(t, iter.Next())

	assert.Nil(t, sl.First())
	assert.Nil(t, sl.Last())
	assert.Nil(t, sl.SeekLT("key1"))
	assert.Equal(t, 0, sl.Len())
}

func BenchmarkSkipList_Insert(b *testing.B) {
	sl := memtable.NewSkipList[string]()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sl.Insert(fmt.Sprintf("key%d", i), "value")
	}
}

func BenchmarkSkipList_Search(b *testing.B) {
	sl := memtable.NewSkipList[string]()
	for i := 0; i < 10000; i++ {
		sl.Insert(fmt.Sprintf("key%d", i), "value")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sl.Search(fmt.Sprintf("key%d", i%10000))
	}
}
