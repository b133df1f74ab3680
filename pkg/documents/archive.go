package documents

import (
	"archive/zip"
	"context"
	"errors"
	"io"

	"github.com/marmos91/dittodrive/internal/logger"
)

type openFunc func(ctx context.Context) (io.ReadCloser, error)

type opened struct {
	body io.ReadCloser
	err  error
}

type archiveEntry struct {
	name  string
	ready chan opened
}

// archive appends entries to a zip stream while keeping at most a fixed
// number of content streams open.
//
// Producers are opened concurrently as soon as a slot is free, in append
// order; a single writer copies them into the zip in the same order. A slot
// is held from the open call until the stream is closed, and slots are
// granted in append order, so the writer always waits on an entry that
// already holds one.
type archive struct {
	zw      *zip.Writer
	slots   chan struct{}
	queue   chan *archiveEntry
	metrics Metrics
}

func newArchive(w io.Writer, concurrency int, metrics Metrics) *archive {
	return &archive{
		zw:      zip.NewWriter(w),
		slots:   make(chan struct{}, concurrency),
		queue:   make(chan *archiveEntry, concurrency),
		metrics: metrics,
	}
}

// append schedules an entry. It blocks while all slots are taken.
func (a *archive) append(ctx context.Context, name string, open openFunc) error {
	select {
	case a.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	entry := &archiveEntry{name: name, ready: make(chan opened, 1)}
	go func() {
		body, err := open(ctx)
		if err == nil && a.metrics != nil {
			a.metrics.ArchiveStreamOpened()
		}
		entry.ready <- opened{body: body, err: err}
	}()

	select {
	case a.queue <- entry:
		return nil
	case <-ctx.Done():
		go a.discard(entry)
		return ctx.Err()
	}
}

// finish signals that no more entries will be appended.
func (a *archive) finish() {
	close(a.queue)
}

// write copies queued entries into the zip until finish is called, then
// writes the central directory. A failed entry is logged and skipped; a
// failure writing to the destination aborts the archive.
func (a *archive) write(ctx context.Context) error {
	for entry := range a.queue {
		var res opened
		select {
		case res = <-entry.ready:
		case <-ctx.Done():
			go a.discard(entry)
			a.drain()
			return ctx.Err()
		}
		if res.err != nil {
			logger.Warn("documents: skipping archive entry %q: %v", entry.name, res.err)
			<-a.slots
			continue
		}

		err := a.copyEntry(entry.name, res.body)
		a.release(res.body)
		if err != nil {
			a.drain()
			return err
		}
	}
	return a.zw.Close()
}

// errDestination marks failures writing the archive itself.
var errDestination = errors.New("archive destination failed")

type destWriter struct {
	w   io.Writer
	err error
}

func (d *destWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if err != nil {
		d.err = err
	}
	return n, err
}

func (a *archive) copyEntry(name string, body io.Reader) error {
	fw, err := a.zw.Create(name)
	if err != nil {
		return errors.Join(errDestination, err)
	}
	dst := &destWriter{w: fw}
	if _, err := io.Copy(dst, body); err != nil {
		if dst.err != nil {
			return errors.Join(errDestination, err)
		}
		logger.Warn("documents: archive entry %q truncated: %v", name, err)
	}
	return nil
}

func (a *archive) release(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		logger.Debug("documents: closing archive stream: %v", err)
	}
	if a.metrics != nil {
		a.metrics.ArchiveStreamClosed()
	}
	<-a.slots
}

func (a *archive) discard(entry *archiveEntry) {
	res := <-entry.ready
	if res.err == nil {
		a.release(res.body)
		return
	}
	<-a.slots
}

// drain releases entries queued behind a failure.
func (a *archive) drain() {
	go func() {
		for entry := range a.queue {
			a.discard(entry)
		}
	}()
}
