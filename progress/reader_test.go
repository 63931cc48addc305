package progress

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadHasherComputesSHA256WhileStreaming(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	hasher := NewReadHasher(bytes.NewReader(payload))

	out, err := io.ReadAll(hasher)
	require.NoError(t, err)
	require.Equal(t, payload, out)

	want := sha256.Sum256(payload)
	require.Equal(t, hex.EncodeToString(want[:]), hasher.SHA256())
}

func TestReadCounterTracksBytesRead(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 1024)
	counter := NewReadCounter(bytes.NewReader(payload))

	_, err := io.Copy(io.Discard, counter)
	require.NoError(t, err)

	require.Equal(t, uint64(1024), counter.Count())
}
