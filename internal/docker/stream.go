package docker

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/docker/docker/pkg/stdcopy"
)

// lineWriter splits written bytes into lines for a LineFunc, holding any
// trailing partial line until the next write or flush.
type lineWriter struct {
	stream string
	fn     LineFunc
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(b []byte) {
	line := strings.TrimRight(string(b), "\r")
	if line != "" {
		w.fn(w.stream, line)
	}
}

// demux reads a log stream. Non-TTY containers multiplex stdout and stderr
// behind 8-byte frame headers; TTY containers send raw stdout.
func demux(r io.Reader, tty bool, fn LineFunc) error {
	stdout := &lineWriter{stream: "stdout", fn: fn}
	stderr := &lineWriter{stream: "stderr", fn: fn}
	defer stdout.flush()
	defer stderr.flush()

	var err error
	if tty {
		_, err = io.Copy(stdout, r)
	} else {
		_, err = stdcopy.StdCopy(stdout, stderr, r)
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
