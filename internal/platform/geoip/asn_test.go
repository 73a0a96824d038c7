package geoip

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenASNMissingFile(t *testing.T) {
	_, err := OpenASN(filepath.Join(t.TempDir(), "missing.mmdb"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open asn database")
}

func TestResolveASNOnClosedResolver(t *testing.T) {
	r := &ASNResolver{}

	_, _, err := r.ResolveASN("not-an-ip")
	assert.Error(t, err)

	_, _, err = r.ResolveASN("192.0.2.1")
	assert.Error(t, err)

	assert.NoError(t, r.Close())
}
