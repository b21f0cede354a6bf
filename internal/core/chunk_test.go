package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"pgregory.net/rapid"
)

func TestAssembleChunks_sortsBySequence(t *testing.T) {
	chunks := []EncodedChunk{
		{Seq: 3, Data: []byte("cc")},
		{Seq: 1, Data: []byte("aa")},
		{Seq: 2, Data: []byte("bb")},
	}
	if got := AssembleChunks(chunks); !bytes.Equal(got, []byte("aabbcc")) {
		t.Errorf("AssembleChunks = %q, want aabbcc", got)
	}
}

func TestAssembleChunks_empty(t *testing.T) {
	if got := AssembleChunks(nil); len(got) != 0 {
		t.Errorf("AssembleChunks(nil) = %v, want empty", got)
	}
}

func TestChecksum_matchesSHA256(t *testing.T) {
	data := []byte("recording bytes")
	sum := sha256.Sum256(data)
	if got := Checksum(data); got != hex.EncodeToString(sum[:]) {
		t.Errorf("Checksum = %s", got)
	}
}

// Delivery order must never affect the assembled artifact or its checksum.
func TestAssembleChunks_orderIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "n")
		chunks := make([]EncodedChunk, n)
		var want []byte
		for i := range chunks {
			data := rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(t, "data")
			chunks[i] = EncodedChunk{Seq: uint64(i + 1), Data: data}
			want = append(want, data...)
		}

		perm := rapid.Permutation(chunks).Draw(t, "perm")
		got := AssembleChunks(perm)
		if !bytes.Equal(got, want) {
			t.Fatalf("assembled %v, want %v", got, want)
		}
		if Checksum(got) != Checksum(want) {
			t.Fatal("checksum depends on delivery order")
		}
	})
}

func TestLiveChannel_roundTrip(t *testing.T) {
	id, ok := SessionFromChannel(LiveChannel("sess-1"))
	if !ok || id != "sess-1" {
		t.Errorf("round trip gave (%q, %v)", id, ok)
	}
	if _, ok := SessionFromChannel("unrelated:channel"); ok {
		t.Error("foreign channel should not parse")
	}
	if _, ok := SessionFromChannel(LiveChannel("")); ok {
		t.Error("empty session suffix should not parse")
	}
}
