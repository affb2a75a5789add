package codec

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
)

// deflateCompress applies general-purpose deflate at the default level.
func deflateCompress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("create deflate writer: %w", err)
	}
	if _, err := writer.Write(payload); err != nil {
		return nil, fmt.Errorf("deflate write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("deflate close: %w", err)
	}
	return buf.Bytes(), nil
}

// deflateDecompress inflates data produced by deflateCompress.
func deflateDecompress(data []byte) ([]byte, error) {
	reader := flate.NewReader(bytes.NewReader(data))
	defer reader.Close()

	original, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	return original, nil
}
