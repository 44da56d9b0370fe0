package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit returns middleware that limits the maximum request body
// size. defaultLimit applies to most endpoints; imageLimit applies to
// report updates, which may carry key-image payloads.
//
// Limits are human-readable strings: "1M", "64M", "1G"; K, M and G
// suffixes are supported and a bare number is bytes.
func BodyLimit(defaultLimit, imageLimit string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	imageBytes := parseLimit(imageLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Body == nil || c.Request().Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if carriesImages(c.Request()) {
				limit = imageBytes
			}

			// Early rejection on the declared length.
			if c.Request().ContentLength > limit {
				return payloadTooLarge(c, limit)
			}

			// Enforce the limit even when Content-Length is missing
			// or wrong.
			c.Request().Body = &limitedReadCloser{
				reader: io.LimitReader(c.Request().Body, limit+1),
				closer: c.Request().Body,
				limit:  limit,
			}
			return next(c)
		}
	}
}

// carriesImages reports whether the request may contain key-image
// payloads: report patches and report creation.
func carriesImages(req *http.Request) bool {
	if !strings.Contains(req.URL.Path, "/reports") {
		return false
	}
	return req.Method == http.MethodPost || req.Method == http.MethodPatch
}

func payloadTooLarge(c echo.Context, limit int64) error {
	return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
		"code":    "payload_too_large",
		"message": fmt.Sprintf("request body exceeds the %d byte limit", limit),
	})
}

type limitedReadCloser struct {
	reader io.Reader
	closer io.Closer
	limit  int64
	read   int64
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	n, err := l.reader.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		return n, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return n, err
}

func (l *limitedReadCloser) Close() error { return l.closer.Close() }

// parseLimit converts "1M"-style limit strings to bytes. Malformed
// input falls back to 1 MB.
func parseLimit(s string) int64 {
	const fallback = 1 << 20

	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return fallback
	}

	mult := int64(1)
	switch s[len(s)-1] {
	case 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n * mult
}
