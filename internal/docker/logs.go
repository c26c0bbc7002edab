package docker

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/docker/docker/pkg/stdcopy"
)

var errStreamClosed = errors.New("log stream closed")

// LogStream follows a container's logs as ordered chunks. Containers without
// a TTY are demultiplexed, with stdout and stderr interleaved in arrival order.
type LogStream struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
	output chan []byte
	stop   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	err       error
}

// StreamLogs starts following id's logs, beginning with the last tail lines.
func (c *Client) StreamLogs(ctx context.Context, id, tail string, tty bool) (*LogStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	rc, err := c.ContainerLogs(ctx, id, tail, true)
	if err != nil {
		cancel()
		return nil, err
	}
	s := NewLogStream(rc, tty)
	s.cancel = cancel
	return s, nil
}

// NewLogStream wraps an engine log body. tty selects raw copy over stdcopy demuxing.
func NewLogStream(rc io.ReadCloser, tty bool) *LogStream {
	s := &LogStream{
		rc:     rc,
		output: make(chan []byte, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(tty)
	return s
}

// Output yields log chunks and is closed when the stream ends.
func (s *LogStream) Output() <-chan []byte { return s.output }

// Done is closed once the stream has ended.
func (s *LogStream) Done() <-chan struct{} { return s.done }

// Err reports why the stream ended, nil for a clean end of stream or Close.
func (s *LogStream) Err() error {
	<-s.done
	return s.err
}

// Close stops following and waits for the reader to finish. It is idempotent.
func (s *LogStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		if s.cancel != nil {
			s.cancel()
		}
		s.rc.Close()
	})
	<-s.done
	return nil
}

func (s *LogStream) run(tty bool) {
	defer close(s.done)
	defer close(s.output)

	w := &chanWriter{out: s.output, stop: s.stop}
	var err error
	if tty {
		_, err = io.Copy(w, s.rc)
	} else {
		_, err = stdcopy.StdCopy(w, w, s.rc)
	}

	select {
	case <-s.stop:
		// closed by the caller, read errors are expected
	default:
		if err != nil && !errors.Is(err, io.EOF) {
			s.err = err
		}
	}
}

type chanWriter struct {
	out  chan<- []byte
	stop <-chan struct{}
}

func (w *chanWriter) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case w.out <- chunk:
		return len(p), nil
	case <-w.stop:
		return 0, errStreamClosed
	}
}
