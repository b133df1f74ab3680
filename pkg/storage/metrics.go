package storage

import (
	"context"
	"io"
	"time"
)

// Metrics records storage operations. A nil Metrics disables collection.
//
// The Prometheus implementation lives in pkg/metrics.
type Metrics interface {
	// ObserveOperation records one operation against a backend.
	ObserveOperation(backend, operation string, duration time.Duration, err error)

	// RecordBytes records bytes moved by a read or write.
	RecordBytes(backend, operation string, n int64)
}

// Instrument wraps s so every call is reported to m. When m is nil, s is
// returned unchanged.
func Instrument(s Storage, m Metrics) Storage {
	if m == nil {
		return s
	}
	return &instrumented{Storage: s, m: m}
}

type instrumented struct {
	Storage
	m Metrics
}

func (i *instrumented) Write(ctx context.Context, path string, r io.Reader, opts WriteOptions) (WriteResult, error) {
	start := time.Now()
	res, err := i.Storage.Write(ctx, path, r, opts)
	i.m.ObserveOperation(i.ID(), "write", time.Since(start), err)
	if err == nil {
		i.m.RecordBytes(i.ID(), "write", res.Size)
	}
	return res, err
}

func (i *instrumented) Read(ctx context.Context, path string, opts ReadOptions) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := i.Storage.Read(ctx, path, opts)
	i.m.ObserveOperation(i.ID(), "read", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &countingReader{ReadCloser: rc, done: func(n int64) { i.m.RecordBytes(i.ID(), "read", n) }}, nil
}

func (i *instrumented) Exists(ctx context.Context, path string, opts ReadOptions) (bool, error) {
	start := time.Now()
	ok, err := i.Storage.Exists(ctx, path, opts)
	i.m.ObserveOperation(i.ID(), "exists", time.Since(start), err)
	return ok, err
}

func (i *instrumented) Remove(ctx context.Context, path string, opts ReadOptions) (bool, error) {
	start := time.Now()
	ok, err := i.Storage.Remove(ctx, path, opts)
	i.m.ObserveOperation(i.ID(), "remove", time.Since(start), err)
	return ok, err
}

type countingReader struct {
	io.ReadCloser
	n    int64
	done func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) Close() error {
	if c.done != nil {
		c.done(c.n)
		c.done = nil
	}
	return c.ReadCloser.Close()
}
