package httpapi

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"testing"
)

func emptyTarGz(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func frameString(metaJSON string, archive []byte) string {
	var buf bytes.Buffer
	writeLen := func(n int) {
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(n))
		buf.Write(lb[:])
	}
	writeLen(len(metaJSON))
	buf.WriteString(metaJSON)
	writeLen(len(archive))
	buf.Write(archive)
	return buf.String()
}
