package zeroconf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTXT(t *testing.T) {
	txt, err := EncodeTXT(map[string]string{"os": "linux", "id": "abc", "empty": ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"empty=", "id=abc", "os=linux"}, txt)

	txt, err = EncodeTXT(nil)
	require.NoError(t, err)
	assert.Empty(t, txt)

	_, err = EncodeTXT(map[string]string{"": "value"})
	require.Error(t, err)

	_, err = EncodeTXT(map[string]string{"a=b": "value"})
	require.Error(t, err)

	_, err = EncodeTXT(map[string]string{"long": strings.Repeat("x", 251)})
	require.Error(t, err)

	_, err = EncodeTXT(map[string]string{"long": strings.Repeat("x", 250)})
	require.NoError(t, err)
}

func TestEncodeTXTLowercasesKeys(t *testing.T) {
	txt, err := EncodeTXT(map[string]string{"id": "k", "Color": "red"})
	require.NoError(t, err)
	assert.Equal(t, []string{"color=red", "id=k"}, txt)
	assert.Equal(t, map[string]string{"id": "k", "color": "red"}, DecodeTXT(txt))

	_, err = EncodeTXT(map[string]string{"color": "red", "Color": "blue"})
	require.Error(t, err)
}

func TestDecodeTXT(t *testing.T) {
	props := DecodeTXT([]string{"id=abc", "ID=other", "flag", "", "=orphan", "url=http://host/?a=b"})
	assert.Equal(t, map[string]string{
		"id":   "abc",
		"flag": "",
		"url":  "http://host/?a=b",
	}, props)

	assert.Empty(t, DecodeTXT(nil))
}
