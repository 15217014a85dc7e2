// Size-based log file rotation
//
// The active file is renamed to <name>.1 when it would exceed the size
// limit; older backups shift up by one and the oldest beyond MaxBackups is
// removed.
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
	// MaxSize is the size limit in bytes. Default is 10 MiB.
	MaxSize int64
	// MaxBackups is the number of rotated files kept. Default is 3.
	MaxBackups int
}

// RotatingFileWriter implements io.Writer with numbered backups.
type RotatingFileWriter struct {
	mu         sync.Mutex
	filename   string
	maxSize    int64
	maxBackups int
	size       int64
	file       *os.File
}

// NewRotatingFileWriter opens (or creates) the log file in append mode.
func NewRotatingFileWriter(cfg RotationConfig) (*RotatingFileWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10 << 20
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	w := &RotatingFileWriter{
		filename:   cfg.Filename,
		maxSize:    cfg.MaxSize,
		maxBackups: cfg.MaxBackups,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.filename), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
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
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFileWriter) backupName(i int) string {
	return fmt.Sprintf("%s.%d", w.filename, i)
}

func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	os.Remove(w.backupName(w.maxBackups))
	for i := w.maxBackups - 1; i >= 1; i-- {
		if _, err := os.Stat(w.backupName(i)); err == nil {
			os.Rename(w.backupName(i), w.backupName(i+1))
		}
	}
	if err := os.Rename(w.filename, w.backupName(1)); err != nil {
		w.open()
		return err
	}
	return w.open()
}

// Close closes the active file.
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

// CurrentSize returns the size of the active file.
func (w *RotatingFileWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Filename returns the active log filename.
func (w *RotatingFileWriter) Filename() string {
	return w.filename
}

// AttachFile sends the root logger's output to both stderr and a rotating
// file. The returned writer must be closed on shutdown.
func AttachFile(cfg RotationConfig) (*RotatingFileWriter, error) {
	fw, err := NewRotatingFileWriter(cfg)
	if err != nil {
		return nil, err
	}
	root := Default()
	root.SetWriter(io.MultiWriter(os.Stderr, fw))
	root.SetColorize(false)
	return fw, nil
}
