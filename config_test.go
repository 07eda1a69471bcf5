package ledgerwal_test

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/julianstephens/ledgerwal"
)

func TestNew_RequiresLocation(t *testing.T) {
	_, err := ledgerwal.New()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ledgerwal.ErrConfigInvalid))
}

func TestNew_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	e, err := ledgerwal.New(ledgerwal.Location(dir))
	assert.NoError(t, err)
	assert.NoError(t, e.Close())
}

func TestNewDefault_CreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/wal"
	e, err := ledgerwal.NewDefault(dir, 16)
	assert.NoError(t, err)
	assert.NoError(t, e.Close())
}

func TestDisableBuffer_BypassesBuffering(t *testing.T) {
	dir := t.TempDir()
	e, err := ledgerwal.New(ledgerwal.Location(dir), ledgerwal.DisableBuffer())
	assert.NoError(t, err)
	assert.NoError(t, e.Write([]byte("direct")))
	assert.NoError(t, e.Close())

	e2, err := ledgerwal.New(ledgerwal.Location(dir))
	assert.NoError(t, err)
	got := readAll(t, e2)
	assert.Equal(t, [][]byte{[]byte("direct")}, got)
	assert.NoError(t, e2.Close())
}
