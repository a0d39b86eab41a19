package secretstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetSetScan(t *testing.T) {
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	_, found, err := s.GetString("keys/hot")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetString("keys/hot", "aa"))
	require.NoError(t, s.SetString("keys/cold", ""))
	require.NoError(t, s.SetString("meta/version", "1"))

	v, found, err := s.GetString("keys/hot")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "aa", v)

	_, found, err = s.GetString("keys/cold")
	require.NoError(t, err)
	assert.True(t, found, "空值也算存在")

	got, err := s.Scan("keys/")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"hot": "aa", "cold": ""}, got)

	require.NoError(t, s.Delete("keys/cold"))
	got, err = s.Scan("keys/")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(OpenOptions{})
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)

	b, err := ParseKey("0x" + hexKey)
	require.NoError(t, err)
	assert.Len(t, b, 32)

	b, err = ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
}
