package marketplace

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

const maxBodyBytes = 32 << 20

// readBody reads a response body, undoing the content encoding the client
// asked for. The transport does not decode for us once Accept-Encoding is set
// by hand.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	var closers []io.Closer

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
