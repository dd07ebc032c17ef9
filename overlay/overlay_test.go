// Copyright © 2025 The dmypy-ls authors

package overlay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOverlay(t *testing.T) *Overlay {
	t.Helper()
	o, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestSetDigestStable(t *testing.T) {
	o := testOverlay(t)

	require.NoError(t, o.Set("/src/app.py", []byte("x = 1\n")))
	d1, ok := o.Digest("/src/app.py")
	require.True(t, ok)

	// Identical content must not change the digest.
	require.NoError(t, o.Set("/src/app.py", []byte("x = 1\n")))
	d2, ok := o.Digest("/src/app.py")
	require.True(t, ok)
	assert.Equal(t, d1, d2)

	// Different content must.
	require.NoError(t, o.Set("/src/app.py", []byte("x = 2\n")))
	d3, ok := o.Digest("/src/app.py")
	require.True(t, ok)
	assert.NotEqual(t, d1, d3)
}

func TestSetOverwritesShadowContent(t *testing.T) {
	o := testOverlay(t)

	require.NoError(t, o.Set("/src/app.py", []byte("x = 1\n")))
	args := o.ShadowArgs()
	require.Len(t, args, 3)
	shadow := args[2]

	require.NoError(t, o.Set("/src/app.py", []byte("x = 2\n")))
	data, err := os.ReadFile(shadow)
	require.NoError(t, err)
	assert.Equal(t, "x = 2\n", string(data))

	// One entry per path, even after repeated sets.
	assert.Len(t, o.ShadowArgs(), 3)
}

func TestClear(t *testing.T) {
	o := testOverlay(t)

	require.NoError(t, o.Set("/src/app.py", []byte("x = 1\n")))
	shadow := o.ShadowArgs()[2]
	o.Clear("/src/app.py")

	assert.Empty(t, o.ShadowArgs())
	_, err := os.Stat(shadow)
	assert.True(t, os.IsNotExist(err))

	_, ok := o.Digest("/src/app.py")
	assert.False(t, ok)
}

func TestShadowArgsOrdered(t *testing.T) {
	o := testOverlay(t)

	require.NoError(t, o.Set("/src/b.py", []byte("b")))
	require.NoError(t, o.Set("/src/a.py", []byte("a")))

	args := o.ShadowArgs()
	require.Len(t, args, 6)
	assert.Equal(t, "--shadow-file", args[0])
	assert.Equal(t, "/src/a.py", args[1])
	assert.Equal(t, "--shadow-file", args[3])
	assert.Equal(t, "/src/b.py", args[4])
}

func TestFlushRestoresRemovedShadow(t *testing.T) {
	o := testOverlay(t)

	require.NoError(t, o.Set("/src/app.py", []byte("x = 1\n")))
	shadow := o.ShadowArgs()[2]
	require.NoError(t, os.Remove(shadow))

	require.NoError(t, o.Flush())
	data, err := os.ReadFile(shadow)
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(data))
}

func TestScratchUniquePaths(t *testing.T) {
	o := testOverlay(t)

	p1, err := o.Scratch([]byte("a = 1\n"))
	require.NoError(t, err)
	p2, err := o.Scratch([]byte("b = 2\n"))
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	data, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "a = 1\n", string(data))

	o.ReleaseScratch(p1)
	_, err = os.Stat(p1)
	assert.True(t, os.IsNotExist(err))
}

func TestCloseRemovesDir(t *testing.T) {
	o, err := New()
	require.NoError(t, err)
	require.NoError(t, o.Set("/src/app.py", []byte("x = 1\n")))
	dir := o.Dir()
	require.NoError(t, o.Close())

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestShadowExtensionFollowsSource(t *testing.T) {
	o := testOverlay(t)
	require.NoError(t, o.Set("/src/app.py", []byte("x")))
	assert.Equal(t, ".py", filepath.Ext(o.ShadowArgs()[2]))
}
