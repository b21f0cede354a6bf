package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/invigil/capture/internal/domain"
)

// EncodedChunk is one ordered, immutable slice of encoded output.
// Concatenation in Seq order reconstructs the artifact.
type EncodedChunk struct {
	Seq  uint64
	Data []byte
}

type ArtifactState string

const (
	ArtifactCreated       ArtifactState = "created"
	ArtifactUploadPending ArtifactState = "upload-pending"
	ArtifactUploaded      ArtifactState = "uploaded"
	ArtifactUploadFailed  ArtifactState = "upload-failed"
)

// RecordingArtifact is the finalized concatenation of all chunks plus its
// checksum. Created once at pipeline stop, immutable thereafter.
type RecordingArtifact struct {
	ObjectName string
	Data       []byte
	Checksum   string
	Size       int64
	State      ArtifactState
	Location   string
	CreatedAt  time.Time
}

// AssembleChunks concatenates chunks in sequence order.
func AssembleChunks(chunks []EncodedChunk) []byte {
	ordered := make([]EncodedChunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	var total int
	for _, c := range ordered {
		total += len(c.Data)
	}
	out := make([]byte, 0, total)
	for _, c := range ordered {
		out = append(out, c.Data...)
	}
	return out
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LiveFrame is a low-rate lossy snapshot of the composited surface.
// Transient: it exists only on the wire, never persisted.
type LiveFrame struct {
	SessionID domain.SessionID `json:"session_id"`
	Seq       uint64           `json:"seq"`
	Timestamp time.Time        `json:"ts"`
	JPEG      []byte           `json:"jpeg"`
}

const liveChannelPrefix = "proctor:live:"

// LiveChannelPattern matches every session's live-frame channel.
const LiveChannelPattern = liveChannelPrefix + "*"

// LiveChannel is the pub/sub channel carrying a session's live frames.
func LiveChannel(id domain.SessionID) string {
	return liveChannelPrefix + string(id)
}

// SessionFromChannel recovers the session id from a live channel name.
func SessionFromChannel(channel string) (domain.SessionID, bool) {
	if len(channel) <= len(liveChannelPrefix) || channel[:len(liveChannelPrefix)] != liveChannelPrefix {
		return "", false
	}
	return domain.SessionID(channel[len(liveChannelPrefix):]), true
}
