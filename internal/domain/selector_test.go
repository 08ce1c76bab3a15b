package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorOf(t *testing.T) {
	sel, ok := SelectorOf([]byte{0xa9, 0x05, 0x9c, 0xbb, 0xff})
	require.True(t, ok)
	assert.Equal(t, Selector{0xa9, 0x05, 0x9c, 0xbb}, sel)

	// Plain value transfers carry no selector.
	_, ok = SelectorOf(nil)
	assert.False(t, ok)
	_, ok = SelectorOf([]byte{0x01, 0x02, 0x03})
	assert.False(t, ok)
}

func TestParseSelector(t *testing.T) {
	sel, err := ParseSelector("0xa9059cbb")
	require.NoError(t, err)
	assert.Equal(t, "0xa9059cbb", sel.String())

	bare, err := ParseSelector("a9059cbb")
	require.NoError(t, err)
	assert.Equal(t, sel, bare)

	_, err = ParseSelector("0xa9059c")
	assert.Error(t, err)
	_, err = ParseSelector("0xzzzzzzzz")
	assert.Error(t, err)
}

func TestSelectorTextRoundTrip(t *testing.T) {
	original := Selector{0x12, 0x34, 0x56, 0x78}
	text, err := original.MarshalText()
	require.NoError(t, err)

	var decoded Selector
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, original, decoded)
}
