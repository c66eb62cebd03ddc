package httpexec

import (
	"compress/gzip"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
)

// decompressReader wraps resp.Body according to its Content-Encoding
// header, directly generalizing ProxyHandler.decompressReader
// (internal/handlers/proxy.go): gzip via the stdlib, br via
// github.com/andybalholm/brotli, anything else passed through untouched.
func decompressReader(resp *http.Response) (io.Reader, error) {
	var bodyReader io.Reader = resp.Body

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		bodyReader = gzipReader
	case "br":
		bodyReader = brotli.NewReader(resp.Body)
	}

	return bodyReader, nil
}
