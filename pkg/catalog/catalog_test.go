package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	for _, key := range Keys() {
		v, err := Lookup(key)
		require.NoError(t, err)
		require.Equal(t, key, v.Key)
		require.NotEmpty(t, v.Main.Filename)
		require.NotEmpty(t, v.Projector.Filename)
		require.Positive(t, v.Main.SizeMB)
	}

	_, err := Lookup("ultra")
	require.ErrorIs(t, err, ErrUnknownVariant)

	v, err := Lookup("MEDIUM")
	require.NoError(t, err)
	require.Equal(t, Medium, v.Key)
}

func TestKeysOrder(t *testing.T) {
	require.Equal(t, []Key{Low, Medium, High}, Keys())
}

func TestCatalogIsImmutable(t *testing.T) {
	all := All()
	all[0].Main.Filename = "tampered.gguf"
	v, err := Lookup(all[0].Key)
	require.NoError(t, err)
	require.NotEqual(t, "tampered.gguf", v.Main.Filename)
}

func TestInstalledAndDelete(t *testing.T) {
	dir := t.TempDir()
	v, err := Lookup(Low)
	require.NoError(t, err)

	require.False(t, Installed(dir, Low))

	mainPath, projPath := v.Paths(dir)
	require.NoError(t, os.WriteFile(mainPath, []byte("main"), 0o644))
	require.False(t, Installed(dir, Low), "projector still missing")

	require.NoError(t, os.WriteFile(projPath, []byte("proj"), 0o644))
	require.True(t, Installed(dir, Low))
	require.False(t, Installed(dir, High))

	msg, err := Delete(dir, Low)
	require.NoError(t, err)
	require.Equal(t, "Deleted "+v.Main.Filename+", Deleted "+v.Projector.Filename, msg)
	require.NoFileExists(t, filepath.Join(dir, v.Main.Filename))

	msg, err = Delete(dir, Low)
	require.NoError(t, err)
	require.Equal(t, "Files not found.", msg)

	_, err = Delete(dir, "bogus")
	require.ErrorIs(t, err, ErrUnknownVariant)
}
