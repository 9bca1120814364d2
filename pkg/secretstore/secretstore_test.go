package secretstore

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	k, err := ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, k)

	hexKey := strings.Repeat("ab", 32)
	k, err = ParseKey(hexKey)
	require.NoError(t, err)
	assert.Len(t, k, 32)

	k, err = ParseKey("0x" + hexKey)
	require.NoError(t, err)
	assert.Len(t, k, 32)

	b64 := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	k, err = ParseKey(b64)
	require.NoError(t, err)
	assert.Equal(t, []byte(strings.Repeat("k", 32)), k)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
	_, err = ParseKey("not a key!")
	assert.Error(t, err)
}

func TestStore_Credentials(t *testing.T) {
	ss, err := Open(OpenOptions{Path: t.TempDir(), EncryptionKey: []byte(strings.Repeat("x", 32))})
	require.NoError(t, err)
	defer ss.Close()

	_, _, err = ss.Credentials(DefaultPrefix)
	assert.Error(t, err)

	require.NoError(t, ss.SetString(DefaultPrefix+"API_KEY", "key"))
	require.NoError(t, ss.SetString(DefaultPrefix+"SECRET_KEY", " secret "))

	apiKey, secret, err := ss.Credentials(DefaultPrefix)
	require.NoError(t, err)
	assert.Equal(t, "key", apiKey)
	assert.Equal(t, "secret", secret)

	v, ok, err := ss.GetString("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}
