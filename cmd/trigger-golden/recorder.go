package main

import (
	"bytes"
	"context"
	"os"
	"time"
)

var nopContext = context.Background()

// recorder is a device transport that keeps what is written and never
// answers.
type recorder struct {
	buf *bytes.Buffer
}

func (r *recorder) Write(p []byte) (int, error)       { return r.buf.Write(p) }
func (r *recorder) Read(p []byte) (int, error)        { return 0, os.ErrDeadlineExceeded }
func (r *recorder) SetReadDeadline(t time.Time) error { return nil }
