package publish

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cratehub/registry"
)

// parseFrame reads a publish request body: a 4-byte little-endian
// length, that many bytes of JSON metadata, a second 4-byte
// little-endian length, then that many bytes of archive. Either
// declared length overrunning its configured bound, or the body
// ending early, fails with ErrMalformedUpload.
func parseFrame(r io.Reader, maxMetadata, maxArchive int64) (metadata, archive []byte, err error) {
	metadata, err = readSection(r, maxMetadata)
	if err != nil {
		return nil, nil, err
	}
	archive, err = readSection(r, maxArchive)
	if err != nil {
		return nil, nil, err
	}
	return metadata, archive, nil
}

func readSection(r io.Reader, max int64) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, &registry.Error{Op: "parseFrame", Kind: registry.ErrMalformedUpload, Inner: err}
	}
	n := int64(binary.LittleEndian.Uint32(lenBuf[:]))
	if n > max {
		return nil, &registry.Error{Op: "parseFrame", Kind: registry.ErrMalformedUpload, Message: fmt.Sprintf("section of %d bytes exceeds limit %d", n, max)}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, &registry.Error{Op: "parseFrame", Kind: registry.ErrMalformedUpload, Inner: err}
	}
	return buf, nil
}
