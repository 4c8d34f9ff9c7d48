package cache

import (
	"bytes"
	"compress/gzip"
	"io"
)

// compressionMinBytes is the default threshold below which compression is
// skipped even when enabled, matching pkg/embedding/cache/compression.go's
// minSizeBytes guard (compressing tiny payloads costs more than it saves).
const compressionMinBytes = 1024

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
