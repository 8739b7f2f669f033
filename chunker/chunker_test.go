// SPDX-License-Identifier: Apache-2.0
package chunker

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyStreamYieldsNoChunks(t *testing.T) {
	chunks := SplitBytes(nil)
	assert.Empty(t, chunks)
	assert.NotNil(t, chunks)
}

func TestSplitShortStreamYieldsOneChunk(t *testing.T) {
	data := bytes.Repeat([]byte("a"), MinSize-1)
	chunks := SplitBytes(data)
	require.Len(t, chunks, 1)
	assert.Equal(t, int64(0), chunks[0].Offset)
	assert.Equal(t, int64(len(data)), chunks[0].Length)
	assert.Equal(t, data, chunks[0].Data)
}

func TestSplitIsDeterministic(t *testing.T) {
	src := rand.New(rand.NewSource(42))
	data := make([]byte, 2*MaxSize+12345)
	_, err := src.Read(data)
	require.NoError(t, err)

	a := SplitBytes(data)
	b := SplitBytes(data)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Offset, b[i].Offset)
		assert.Equal(t, a[i].Length, b[i].Length)
	}
}

func TestSplitReconstructsOriginal(t *testing.T) {
	src := rand.New(rand.NewSource(7))
	data := make([]byte, 3*AverageSize+500)
	_, err := src.Read(data)
	require.NoError(t, err)

	chunks := SplitBytes(data)

	var rebuilt []byte
	for _, c := range chunks {
		rebuilt = append(rebuilt, c.Data...)
	}
	assert.Equal(t, data, rebuilt)
}

func TestSplitRespectsMaxSize(t *testing.T) {
	// Constant bytes never satisfy the gear-hash mask condition (every
	// gearTable lookup is the same value, so the rolling hash settles to
	// one constant after 64 bytes, and none of its values match either
	// mask), which exercises the MaxSize cap path.
	data := bytes.Repeat([]byte{0x42}, 3*MaxSize+1000)
	chunks := SplitBytes(data)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.Length, int64(MaxSize))
	}
}

func TestSplitSharedPrefixSharesLeadingChunks(t *testing.T) {
	src := rand.New(rand.NewSource(99))
	shared := make([]byte, 5*AverageSize)
	_, err := src.Read(shared)
	require.NoError(t, err)

	tailA := []byte("unique tail content for stream A")
	tailB := []byte("a completely different unique tail for stream B, longer")

	a := SplitBytes(append(append([]byte{}, shared...), tailA...))
	b := SplitBytes(append(append([]byte{}, shared...), tailB...))

	// At minimum the first chunk (content-defined, independent of what
	// follows the shared region by more than MaxSize bytes) must match.
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)
	assert.Equal(t, a[0], b[0])
}
