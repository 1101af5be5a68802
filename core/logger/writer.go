package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// asyncWriter decouples log emission from sink I/O: records are queued and a
// single goroutine fans them out to every sink, so a slow file or pipe never
// stalls the handler.
type asyncWriter struct {
	records chan []byte
	flushes chan chan error
	drained chan struct{}
	closing sync.Once

	mu   sync.Mutex
	out  []*bufio.Writer
	fail error
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	out := make([]*bufio.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			out = append(out, bufio.NewWriterSize(w, bufSize))
		}
	}
	aw := &asyncWriter{
		records: make(chan []byte, 256),
		flushes: make(chan chan error),
		drained: make(chan struct{}),
		out:     out,
	}
	go aw.run()
	return aw
}

func (w *asyncWriter) run() {
	for {
		select {
		case rec, open := <-w.records:
			if !open {
				w.syncSinks()
				close(w.drained)
				return
			}
			if len(rec) > 0 {
				w.fanOut(rec)
			}
		case ack := <-w.flushes:
			ack <- w.syncSinks()
		}
	}
}

// Write copies p and queues it; when the queue is full it blocks rather than
// drop the record.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.firstErr(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	rec := make([]byte, len(p))
	copy(rec, p)
	w.records <- rec
	return nil
}

// Flush blocks until every record queued so far has reached the sinks.
func (w *asyncWriter) Flush() error {
	if err := w.firstErr(); err != nil {
		return err
	}
	ack := make(chan error, 1)
	w.flushes <- ack
	return <-ack
}

// Close drains the queue, flushes the sinks, and reports the first write
// error seen over the writer's lifetime.
func (w *asyncWriter) Close() error {
	w.closing.Do(func() { close(w.records) })
	<-w.drained
	return w.firstErr()
}

func (w *asyncWriter) fanOut(rec []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sink := range w.out {
		if _, err := sink.Write(rec); err != nil {
			w.recordErr(err)
			return
		}
		if err := sink.Flush(); err != nil {
			w.recordErr(err)
			return
		}
	}
}

func (w *asyncWriter) syncSinks() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, sink := range w.out {
		if err := sink.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) firstErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fail
}

// recordErr keeps the first failure; callers must hold w.mu.
func (w *asyncWriter) recordErr(err error) {
	if w.fail == nil {
		w.fail = err
	}
}
