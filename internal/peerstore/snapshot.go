package peerstore

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// encodeSnapshot serializes the index as:
//
//	count:u32 { keyLen:u16 key pathLen:u16 path size:u64 } totalBytes:u64
func encodeSnapshot(index map[string]entry, totalBytes int64) []byte {
	buf := make([]byte, 0, 64*len(index)+12)
	var tmp [8]byte

	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(index)))
	buf = append(buf, tmp[:4]...)

	for key, e := range index {
		binary.LittleEndian.PutUint16(tmp[:2], uint16(len(key)))
		buf = append(buf, tmp[:2]...)
		buf = append(buf, key...)

		binary.LittleEndian.PutUint16(tmp[:2], uint16(len(e.path)))
		buf = append(buf, tmp[:2]...)
		buf = append(buf, e.path...)

		binary.LittleEndian.PutUint64(tmp[:8], uint64(e.size))
		buf = append(buf, tmp[:8]...)
	}

	binary.LittleEndian.PutUint64(tmp[:8], uint64(totalBytes))
	buf = append(buf, tmp[:8]...)
	return buf
}

func decodeSnapshot(buf []byte) (map[string]entry, int64, error) {
	if len(buf) < 4 {
		return nil, 0, ErrIndexCorrupted
	}
	count := int(binary.LittleEndian.Uint32(buf[:4]))
	cursor := 4

	index := make(map[string]entry, count)
	for i := 0; i < count; i++ {
		if cursor+2 > len(buf) {
			return nil, 0, ErrIndexCorrupted
		}
		keyLen := int(binary.LittleEndian.Uint16(buf[cursor : cursor+2]))
		cursor += 2
		if cursor+keyLen > len(buf) {
			return nil, 0, ErrIndexCorrupted
		}
		key := string(buf[cursor : cursor+keyLen])
		cursor += keyLen

		if cursor+2 > len(buf) {
			return nil, 0, ErrIndexCorrupted
		}
		pathLen := int(binary.LittleEndian.Uint16(buf[cursor : cursor+2]))
		cursor += 2
		if cursor+pathLen > len(buf) {
			return nil, 0, ErrIndexCorrupted
		}
		path := string(buf[cursor : cursor+pathLen])
		cursor += pathLen

		if cursor+8 > len(buf) {
			return nil, 0, ErrIndexCorrupted
		}
		size := int64(binary.LittleEndian.Uint64(buf[cursor : cursor+8]))
		cursor += 8

		index[key] = entry{path: path, size: size}
	}

	if cursor+8 > len(buf) {
		return nil, 0, ErrIndexCorrupted
	}
	totalBytes := int64(binary.LittleEndian.Uint64(buf[cursor : cursor+8]))
	return index, totalBytes, nil
}

var errSnapshotMissing = errors.New("peerstore: no snapshot file")
