package deepseek

import (
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	deepseekv1 "github.com/ZhenchangMin/AI-study-copilot/internal/api/deepseek/v1"
	"github.com/ZhenchangMin/AI-study-copilot/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/pkg/errors"
)

const maxErrorBodyLen = 200

// readResponse reads the whole body, undoing any Content-Encoding. We ask for
// compressed bodies explicitly, so net/http leaves decoding to us.
func readResponse(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "error creating gzip reader")
		}
		defer gzReader.Close()
		reader = gzReader
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		flateReader := flate.NewReader(resp.Body)
		defer flateReader.Close()
		reader = flateReader
	}

	return io.ReadAll(reader)
}

// errorMessage extracts a human readable reason from an upstream error body
func errorMessage(status int, body []byte) string {
	var errResp deepseekv1.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		return utils.TruncateString(trimmed, maxErrorBodyLen)
	}
	return http.StatusText(status)
}
