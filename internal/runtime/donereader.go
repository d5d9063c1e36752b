package runtime

import (
	"io"
	"sync"
)

// Wraps an [io.Reader] and signals on a channel once the stream is
// exhausted.
//
// Used to detect when a tar stream piped into a container has been fully
// consumed, so the exec's stdin can be closed and the process can see EOF.
type doneReader struct {
	r    io.Reader
	done chan struct{}
	once sync.Once
}

func newDoneReader(r io.Reader) *doneReader {
	return &doneReader{r: r, done: make(chan struct{})}
}

// Delegates to the underlying reader, closing the done channel on the
// first [io.EOF]. Other errors do not fire the channel; the exec path
// handles those through its own error return.
func (d *doneReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == io.EOF {
		d.once.Do(func() { close(d.done) })
	}
	return n, err
}
