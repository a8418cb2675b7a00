// Package record implements the on-disk log record format: a fixed
// 17-byte header followed by the key and value bytes. It knows nothing
// about segments or files; it only turns a (timestamp, tombstone, key,
// value) tuple into bytes and back.
package record

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/arfanq/barreldb/pkg/kverrors"
)

// HeaderSize is the fixed length of every record header, in bytes:
// 8 (timestamp) + 1 (tombstone) + 4 (key size) + 4 (value size).
const HeaderSize = 17

// Record is the decoded form of a single log entry.
type Record struct {
	Timestamp uint64
	Tombstone bool
	Key       string
	Value     []byte
}

// FramedSize returns the total on-disk length of a record with the given
// key and value sizes.
func FramedSize(keySize, valueSize int) int {
	return HeaderSize + keySize + valueSize
}

// Encode serializes a record. Fails with an oversized-key or
// oversized-value RecordError if key or value exceed the given maximums.
func Encode(timestamp uint64, tombstone bool, key string, value []byte, maxKeySize, maxValueSize int) ([]byte, error) {
	if len(key) > maxKeySize {
		return nil, kverrors.NewOversizedKeyError(len(key), maxKeySize)
	}
	if len(value) > maxValueSize {
		return nil, kverrors.NewOversizedValueRecordError(len(value), maxValueSize)
	}

	total := FramedSize(len(key), len(value))
	buf := make([]byte, total)

	binary.BigEndian.PutUint64(buf[0:8], timestamp)
	if tombstone {
		buf[8] = 1
	} else {
		buf[8] = 0
	}
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(key)))
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(value)))

	copy(buf[HeaderSize:], key)
	copy(buf[HeaderSize+len(key):], value)

	return buf, nil
}

// Header is the decoded form of a record's fixed-length header.
type Header struct {
	Timestamp uint64
	Tombstone bool
	KeySize   uint32
	ValueSize uint32
}

// DecodeHeader reads the fixed 17-byte header. A tombstone byte other
// than 0 or 1 is treated as 1: fail-closed toward deletion so a corrupt
// flag byte can never resurrect a record that was meant to be removed.
func DecodeHeader(hdr [HeaderSize]byte) Header {
	return Header{
		Timestamp: binary.BigEndian.Uint64(hdr[0:8]),
		Tombstone: hdr[8] != 0,
		KeySize:   binary.BigEndian.Uint32(hdr[9:13]),
		ValueSize: binary.BigEndian.Uint32(hdr[13:17]),
	}
}

// Decode parses a complete framed record (header, key, and value all
// present in buf). Fails with Truncated if buf is shorter than the
// header or than the header-declared total length, and with
// InvalidRecord if the key is not valid UTF-8.
func Decode(buf []byte) (*Record, error) {
	if len(buf) < HeaderSize {
		return nil, kverrors.NewTruncatedError(HeaderSize, len(buf))
	}

	var hdrArr [HeaderSize]byte
	copy(hdrArr[:], buf[:HeaderSize])
	hdr := DecodeHeader(hdrArr)

	total := FramedSize(int(hdr.KeySize), int(hdr.ValueSize))
	if len(buf) < total {
		return nil, kverrors.NewTruncatedError(total, len(buf))
	}

	keyStart := HeaderSize
	keyEnd := keyStart + int(hdr.KeySize)
	key := string(buf[keyStart:keyEnd])

	if !utf8.ValidString(key) {
		return nil, kverrors.NewInvalidRecordError("key is not valid UTF-8")
	}

	value := make([]byte, hdr.ValueSize)
	copy(value, buf[keyEnd:total])

	return &Record{
		Timestamp: hdr.Timestamp,
		Tombstone: hdr.Tombstone,
		Key:       key,
		Value:     value,
	}, nil
}
