package middleware

import (
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// compressQuality trades ratio for latency; attempt views are small JSON documents.
const compressQuality = 4

// brotliWriter holds the body back until it reaches minLength. Below the threshold the
// response goes out as-is; at or above it every byte goes through the encoder.
type brotliWriter struct {
	gin.ResponseWriter
	enc       *brotli.Writer
	buf       []byte
	minLength int
}

func (w *brotliWriter) Write(data []byte) (int, error) {
	if w.enc != nil {
		return w.enc.Write(data)
	}
	w.buf = append(w.buf, data...)
	if len(w.buf) < w.minLength {
		return len(data), nil
	}

	h := w.ResponseWriter.Header()
	h.Set("Content-Encoding", "br")
	h.Del("Content-Length")
	w.enc = brotli.NewWriterLevel(w.ResponseWriter, compressQuality)

	pending := w.buf
	w.buf = nil
	if _, err := w.enc.Write(pending); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (w *brotliWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// finish writes a short body uncompressed or closes the encoder.
func (w *brotliWriter) finish() error {
	if w.enc != nil {
		return w.enc.Close()
	}
	if len(w.buf) == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.buf)
	w.buf = nil
	return err
}

// Compress brotli-encodes responses of at least minLength bytes for clients that
// accept "br". minLength <= 0 disables it. WebSocket upgrades pass through untouched.
func Compress(minLength int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if minLength <= 0 || isUpgrade(c.Request) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		bw := &brotliWriter{ResponseWriter: c.Writer, minLength: minLength}
		c.Writer = bw
		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
			c.Writer = bw.ResponseWriter
		}()

		c.Next()
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		// "br;q=0.8" still counts.
		name, _, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(name, "br") {
			return true
		}
	}
	return false
}
