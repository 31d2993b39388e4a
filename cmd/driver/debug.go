package main

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
)

// debugHandler logs every request, including the first bytes of the body
type debugHandler struct {
	logger  servicelog.Logger
	handler http.Handler
}

// Reader that keeps a buffer with the first 1kb of the request
type peekReader struct {
	reader io.ReadCloser
	buffer bytes.Buffer
}

// Read implements ReadCloser
func (r *peekReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		if r.buffer.Len() < 1024 {
			remaining := 1024 - r.buffer.Len()
			if remaining > n {
				remaining = n
			}
			if remaining > 0 {
				r.buffer.Write(p[:remaining])
			}
		}
	}
	return n, err
}

// Close implements ReadCloser
func (r *peekReader) Close() error {
	return r.reader.Close()
}

// statusWriter remembers the status code sent to the client
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ServeHTTP implements http.Handler
func (h debugHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	logger := h.logger.With(servicelog.String("method", req.Method), servicelog.String("url", req.URL.String()), servicelog.Any("headers", req.Header))
	var pr *peekReader
	if req.Body != nil {
		pr = &peekReader{
			reader: req.Body,
		}
		req.Body = pr
	}
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	h.handler.ServeHTTP(sw, req)
	if pr != nil && pr.buffer.Len() > 0 {
		logger = logger.With(servicelog.String("body", pr.buffer.String()))
	}
	logger.Debug("HTTP request", servicelog.Int("status", sw.status), servicelog.Duration("elapsed", time.Since(start)))
}
