package btree

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeInt64_PreservesOrder(t *testing.T) {
	values := []int64{math.MinInt64, -1 << 40, -300, -1, 0, 1, 255, 256, 1 << 40, math.MaxInt64}
	for i := 1; i < len(values); i++ {
		require.Negativef(t, bytes.Compare(EncodeInt64(values[i-1]), EncodeInt64(values[i])), "%d < %d", values[i-1], values[i])
	}
	for _, v := range values {
		require.Equal(t, v, DecodeInt64(EncodeInt64(v)))
	}
}

func TestEncodeFloat64_PreservesOrder(t *testing.T) {
	values := []float64{math.Inf(-1), -1e300, -2.5, -1, -math.SmallestNonzeroFloat64, 0, math.SmallestNonzeroFloat64, 0.5, 1, 3.25, 1e300, math.Inf(1)}
	for i := 1; i < len(values); i++ {
		require.Negativef(t, bytes.Compare(EncodeFloat64(values[i-1]), EncodeFloat64(values[i])), "%g < %g", values[i-1], values[i])
	}
	for _, v := range values {
		require.Equal(t, v, DecodeFloat64(EncodeFloat64(v)))
	}
}

func TestNormalizeKey(t *testing.T) {
	require.Equal(t, []byte("ab\x00\x00"), normalizeKey(ColumnTypeString, []byte("ab"), 4))
	require.Equal(t, []byte("ab\x00\x00"), normalizeKey(ColumnTypeString, []byte("ab\x00cd"), 4))
	require.Equal(t, []byte("abcd"), normalizeKey(ColumnTypeString, []byte("abcdef"), 4))

	// Binary keys keep embedded zero bytes.
	require.Equal(t, []byte{1, 0, 2, 0}, normalizeKey(ColumnTypeInt64, []byte{1, 0, 2}, 4))
}

func TestRawByteOrderForUnencodedIntegers(t *testing.T) {
	// Little-endian integers compared byte-wise do not sort numerically;
	// callers that need numeric order use EncodeInt64.
	le := func(v uint64) []byte {
		return []byte{byte(v), byte(v >> 8), 0, 0, 0, 0, 0, 0}
	}
	require.Positive(t, compareKeys(le(1), le(256)))
	require.Negative(t, compareKeys(EncodeInt64(1), EncodeInt64(256)))
}

func TestParseColumnType(t *testing.T) {
	for _, ct := range []ColumnType{ColumnTypeInt64, ColumnTypeFloat64, ColumnTypeString} {
		parsed, err := ParseColumnType(ct.String())
		require.NoError(t, err)
		require.Equal(t, ct, parsed)
	}
	parsed, err := ParseColumnType("string")
	require.NoError(t, err)
	require.Equal(t, ColumnTypeString, parsed)

	_, err = ParseColumnType("blob")
	require.Error(t, err)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey(ColumnTypeInt64, "-42", 8)
	require.NoError(t, err)
	require.Equal(t, EncodeInt64(-42), k)

	k, err = ParseKey(ColumnTypeFloat64, "2.5", 8)
	require.NoError(t, err)
	require.Equal(t, EncodeFloat64(2.5), k)

	k, err = ParseKey(ColumnTypeString, "ab", 4)
	require.NoError(t, err)
	require.Equal(t, []byte("ab\x00\x00"), k)

	_, err = ParseKey(ColumnTypeInt64, "forty", 8)
	require.Error(t, err)
	require.Equal(t, "-42", formatKey(ColumnTypeInt64, EncodeInt64(-42)))
}
