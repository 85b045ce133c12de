package lorawan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEUI64(t *testing.T) {
	eui, err := ParseEUI64("0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "0123456789ABCDEF", eui.String())

	_, err = ParseEUI64("0123456789ABCDE")
	assert.Error(t, err)

	_, err = ParseEUI64("0123456789ABCDEG")
	assert.Error(t, err)
}

func TestParseAES128Key(t *testing.T) {
	key, err := ParseAES128Key("00112233445566778899AABBCCDDEEFF")
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), key[15])

	_, err = ParseAES128Key("00112233445566778899AABBCCDDEE")
	assert.Error(t, err)
}

func TestEUI64JSON(t *testing.T) {
	eui, err := ParseEUI64("FEDCBA9876543210")
	require.NoError(t, err)

	data, err := json.Marshal(eui)
	require.NoError(t, err)
	assert.Equal(t, `"FEDCBA9876543210"`, string(data))
}

func TestMTypeString(t *testing.T) {
	assert.Equal(t, "Join Request", JoinRequest.String())
	assert.Equal(t, "Join Accept", JoinAccept.String())
	assert.Equal(t, "Unconfirmed Data Up", UnconfirmedDataUp.String())
}
