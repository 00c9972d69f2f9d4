package scan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindWidths(t *testing.T) {
	widths := map[Kind]int{
		U8: 1, U16: 2, U32: 4, U64: 8,
		I32: 4, I64: 8, F32: 4, F64: 8,
	}
	for k, w := range widths {
		require.Equal(t, w, k.Width(), "width of %s", k)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, parsed)
	}

	_, err := ParseKind("u128")
	require.Error(t, err)
	_, err = ParseKind("")
	require.Error(t, err)
}

func TestParseValueUnsigned(t *testing.T) {
	v, err := U8.ParseValue("255")
	require.NoError(t, err)
	require.Equal(t, []byte{255}, v.Bytes())

	_, err = U8.ParseValue("256")
	require.ErrorIs(t, err, ErrParse)
	_, err = U8.ParseValue("-1")
	require.ErrorIs(t, err, ErrParse)
	_, err = U32.ParseValue("notanumber")
	require.ErrorIs(t, err, ErrParse)

	v, err = U32.ParseValue("15")
	require.NoError(t, err)
	require.Equal(t, []byte{15, 0, 0, 0}, v.Bytes())

	v, err = U64.ParseValue("18446744073709551615")
	require.NoError(t, err)
	require.Equal(t, []byte{255, 255, 255, 255, 255, 255, 255, 255}, v.Bytes())
}

func TestParseValueSigned(t *testing.T) {
	v, err := I32.ParseValue("-1")
	require.NoError(t, err)
	require.Equal(t, []byte{255, 255, 255, 255}, v.Bytes())

	_, err = I32.ParseValue("2147483648")
	require.ErrorIs(t, err, ErrParse)

	v, err = I64.ParseValue("-2")
	require.NoError(t, err)
	require.Equal(t, []byte{254, 255, 255, 255, 255, 255, 255, 255}, v.Bytes())
}

func TestParseValueFloat(t *testing.T) {
	v, err := F32.ParseValue("1.5")
	require.NoError(t, err)
	// 1.5f = 0x3FC00000 little-endian.
	require.Equal(t, []byte{0x00, 0x00, 0xC0, 0x3F}, v.Bytes())

	_, err = F32.ParseValue("NaN")
	require.ErrorIs(t, err, ErrParse)
	_, err = F64.ParseValue("nan")
	require.ErrorIs(t, err, ErrParse)

	v, err = F64.ParseValue("2.0")
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0x00, 0x40}, v.Bytes())
}

func TestValueMatches(t *testing.T) {
	v, err := U32.ParseValue("15")
	require.NoError(t, err)
	require.True(t, v.Matches([]byte{15, 0, 0, 0}))
	require.False(t, v.Matches([]byte{15, 0, 0, 1}))

	// Signed equality goes through the bit pattern.
	v, err = I32.ParseValue("-1")
	require.NoError(t, err)
	require.True(t, v.Matches([]byte{255, 255, 255, 255}))

	// IEEE-754 equality: negative zero equals positive zero.
	v, err = F64.ParseValue("-0")
	require.NoError(t, err)
	require.True(t, v.Matches([]byte{0, 0, 0, 0, 0, 0, 0, 0}))
}
