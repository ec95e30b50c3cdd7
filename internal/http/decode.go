package http

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodeBody reads r fully, undoing the given Content-Encoding.
func decodeBody(encoding string, r io.Reader) ([]byte, error) {
	var reader io.Reader = r

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
	case "gzip", "x-gzip":
		gzipReader, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gzipReader.Close()
		reader = gzipReader
	case "deflate":
		flateReader := flate.NewReader(r)
		defer flateReader.Close()
		reader = flateReader
	case "br":
		reader = brotli.NewReader(r)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}

	return io.ReadAll(reader)
}
