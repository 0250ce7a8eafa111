// Log file output with size-based rotation
//
// The active file keeps its configured name. On rotation it becomes
// name.1, the previous name.1 becomes name.2 and so on up to MaxBackups.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// Filename is the path to the log file.
	Filename string

	// MaxSize is the size in bytes that triggers rotation. Default 10 MiB.
	MaxSize int64

	// MaxBackups is the number of rotated files kept. Default 3.
	MaxBackups int
}

// RotatingFileWriter is an io.Writer appending to a file that is rotated
// once it grows past the configured size.
type RotatingFileWriter struct {
	mu   sync.Mutex
	cfg  RotationConfig
	file *os.File
	size int64
}

// NewRotatingFileWriter opens (or creates) the log file in append mode.
func NewRotatingFileWriter(cfg RotationConfig) (*RotatingFileWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log file name is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10 << 20
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	w := &RotatingFileWriter{cfg: cfg}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.cfg.Filename), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.cfg.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.cfg.MaxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil
	name := w.cfg.Filename
	os.Remove(backupName(name, w.cfg.MaxBackups))
	for i := w.cfg.MaxBackups - 1; i >= 1; i-- {
		os.Rename(backupName(name, i), backupName(name, i+1))
	}
	if err := os.Rename(name, backupName(name, 1)); err != nil {
		w.open()
		return err
	}
	return w.open()
}

func backupName(name string, n int) string {
	return fmt.Sprintf("%s.%d", name, n)
}

// Close closes the log file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Size returns the size of the active file.
func (w *RotatingFileWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Filename returns the active log file name.
func (w *RotatingFileWriter) Filename() string {
	return w.cfg.Filename
}

// AttachFile makes the logger's sink write to a rotating file as well as
// its current writer when tee is set, or only to the file otherwise. Colors
// are disabled since they end up as escape codes in the file.
func AttachFile(l *Logger, cfg RotationConfig, tee bool) (*RotatingFileWriter, error) {
	fw, err := NewRotatingFileWriter(cfg)
	if err != nil {
		return nil, err
	}
	l.out.mu.Lock()
	if tee {
		l.out.writer = io.MultiWriter(l.out.writer, fw)
	} else {
		l.out.writer = fw
	}
	l.out.colorize = false
	l.out.mu.Unlock()
	return fw, nil
}
