package badger

import (
	"encoding/binary"
)

// Key prefixes for different data types
const (
	projectPrefix   = "proj:"
	embeddingPrefix = "emb:"
	tagPrefix       = "tag:"
	projectIDSeq    = "projseq"
)

// idKey builds prefix + BigEndian(id) so lexicographic order is id order
func idKey(prefix string, id int64) []byte {
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

func makeProjectKey(id int64) []byte {
	return idKey(projectPrefix, id)
}

func makeEmbeddingKey(projectID int64) []byte {
	return idKey(embeddingPrefix, projectID)
}

// makeTagKey generates a composite key for a project tag.
// Format: prefix:projectID:tag
func makeTagKey(projectID int64, tag string) []byte {
	prefix := makePartialTagKey(projectID)
	buf := make([]byte, len(prefix)+len(tag))
	offset := copy(buf, prefix)
	copy(buf[offset:], tag)
	return buf
}

// makePartialTagKey generates the prefix shared by all tags of a project
func makePartialTagKey(projectID int64) []byte {
	return idKey(tagPrefix, projectID)
}

// idFromKey decodes the id that follows prefix
func idFromKey(key []byte, prefix string) int64 {
	return int64(binary.BigEndian.Uint64(key[len(prefix) : len(prefix)+8]))
}

// tagFromKey returns the tag part of a tag key
func tagFromKey(key []byte) string {
	return string(key[len(tagPrefix)+8:])
}
