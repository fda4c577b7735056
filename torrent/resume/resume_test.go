package resume

import (
	"path/filepath"
	"testing"

	"github.com/lkslts64/charo-verify/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.db")
	s, err := Open(path)
	require.NoError(t, err)
	hash := metainfo.NewHashFromHex("51340689c960f0778a4387aef9b4b52fd08390cd")
	_, err = s.Load(hash)
	assert.ErrorIs(t, err, ErrNotFound)

	st := State{
		Blocks:   []byte{0xf0, 0x80},
		Checked:  []byte{0xc0},
		Mtimes:   []int64{1577934245000000000, 0},
		Unwanted: []int{1},
	}
	require.NoError(t, s.Save(hash, st))
	got, err := s.Load(hash)
	require.NoError(t, err)
	assert.Equal(t, st, got)
	require.NoError(t, s.Close())

	//survives reopening
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err = s.Load(hash)
	require.NoError(t, err)
	assert.Equal(t, st, got)
	require.NoError(t, s.Delete(hash))
	_, err = s.Load(hash)
	assert.ErrorIs(t, err, ErrNotFound)
}
