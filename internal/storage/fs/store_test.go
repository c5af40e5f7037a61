package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polo/internal/storage/core"
)

func TestPutGetOverwrite(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Put(ctx, "runs/a.xtal", strings.NewReader("one"), core.PutOptions{})
	require.NoError(t, err)
	info, err := s.Put(ctx, "runs/a.xtal", strings.NewReader("two!"), core.PutOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, info.Size)

	_, rc, err := s.Get(ctx, "runs/a.xtal")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "two!", string(data))

	entries, err := os.ReadDir(filepath.Join(s.Root(), "runs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRejectsEscapingKeys(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../x", "/abs", "a/../../x"} {
		_, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{})
		assert.ErrorIs(t, err, core.ErrInvalidKey, key)
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"b.xtal", "a.xtal", "sub/c.xtal"} {
		_, err := s.Put(ctx, key, strings.NewReader(key), core.PutOptions{})
		require.NoError(t, err)
	}

	infos, err := s.List(ctx, "")
	require.NoError(t, err)
	var keys []string
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	assert.Equal(t, []string{"a.xtal", "b.xtal", "sub/c.xtal"}, keys)

	infos, err = s.List(ctx, "sub/")
	require.NoError(t, err)
	assert.Len(t, infos, 1)

	ok, err := s.Delete(ctx, "a.xtal")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "a.xtal")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Head(ctx, "a.xtal")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
