package connector

import (
	"os"
	"sync"
)

// outputFile collects the backend's stdout and stderr. The file is created
// by the first write, so its existence means the backend has started
// talking. Writes after Close are discarded.
type outputFile struct {
	path string

	mu     sync.Mutex
	f      *os.File
	closed bool
}

func (o *outputFile) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return len(p), nil
	}
	if o.f == nil {
		f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return 0, err
		}
		o.f = f
	}
	return o.f.Write(p)
}

func (o *outputFile) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	if o.f == nil {
		return nil
	}
	err := o.f.Close()
	o.f = nil
	return err
}
