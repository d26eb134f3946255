package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"
)

// DomainCommand prefixes command identity hashes.
// Version suffix enables future algorithm migration.
const DomainCommand = "replyplace/command/v2"

// CommandKey computes the content-addressed identity of a command.
// Two commands have the same key iff they are identical in every field,
// regardless of which ingestion path constructed them.
//
// Each field is written as a big-endian uint64 byte length followed by its
// raw bytes, after the domain and a 0x00 separator. Strings are hashed exactly as given: no Unicode normalization
// and no replacement of invalid UTF-8.
func CommandKey(c Command) string {
	h := sha256.New()
	h.Write([]byte(DomainCommand))
	h.Write([]byte{0x00})
	writeField(h, c.Actor)
	writeField(h, strconv.Itoa(c.X))
	writeField(h, strconv.Itoa(c.Y))
	writeField(h, c.Colour)
	writeField(h, FormatTime(c.Timestamp))
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// CanonicalMap exposes the canonical object form of a command for callers
// that embed commands inside larger canonical documents.
func (c Command) CanonicalMap() map[string]any {
	return map[string]any{
		"actor":     c.Actor,
		"x":         c.X,
		"y":         c.Y,
		"colour":    c.Colour,
		"timestamp": FormatTime(c.Timestamp),
	}
}
