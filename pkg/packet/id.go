package packet

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"
)

// idPattern matches a well-formed packet id: 64 lowercase hex characters.
var idPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ComputeID returns the canonical packet id for content found at a
// location: the SHA-256 of the location and the raw content, hex encoded.
// The id doubles as the deduplication key, so the same bytes at the same
// location always produce the same id.
func ComputeID(originalLocation string, rawContent []byte) string {
	h := sha256.New()
	h.Write([]byte(originalLocation))
	h.Write([]byte("\n"))
	h.Write(rawContent)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidID reports whether id is a well-formed packet id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// New assembles a packet for raw content, computing the canonical id and
// stamping version and creation time. Content sections are attached by the
// caller before validation.
func New(source Source, meta Metadata, rawContent []byte) *KnowledgePacket {
	return &KnowledgePacket{
		PacketVersion: Version,
		PacketID:      ComputeID(source.OriginalLocation, rawContent),
		Timestamp:     time.Now().UTC(),
		Source:        source,
		Metadata:      meta,
	}
}
