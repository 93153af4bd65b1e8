package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrPortClosed is returned by mock ports after Close.
var ErrPortClosed = errors.New("serial port closed")

type readStep struct {
	data []byte
	err  error
}

// TestableSerialPort implements TimeoutSerialPorter with a scripted sequence of
// reads. Each queued step is returned by exactly one Read call, so tests can
// control chunk boundaries and inject errors between them. Once the script
// is exhausted Read returns io.EOF.
type TestableSerialPort struct {
	mu sync.Mutex

	steps []readStep

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

// QueueRead adds one chunk to be returned by a single Read call. A nil or
// empty chunk simulates a read timeout (0 bytes, nil error).
func (t *TestableSerialPort) QueueRead(data []byte) *TestableSerialPort {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, readStep{data: append([]byte(nil), data...)})
	return t
}

// QueueString is QueueRead for string chunks.
func (t *TestableSerialPort) QueueString(chunks ...string) *TestableSerialPort {
	for _, c := range chunks {
		t.QueueRead([]byte(c))
	}
	return t
}

// QueueError makes the next unconsumed Read call fail with err.
func (t *TestableSerialPort) QueueError(err error) *TestableSerialPort {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, readStep{err: err})
	return t
}

// Pending returns the number of scripted steps not yet consumed.
func (t *TestableSerialPort) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.steps)
}

// Read returns the next scripted step. If p is shorter than the queued chunk
// the remainder stays queued for the next call.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}
	if len(t.steps) == 0 {
		return 0, io.EOF
	}

	step := &t.steps[0]
	if step.err != nil {
		err := step.err
		t.steps = t.steps[1:]
		return 0, err
	}

	n = copy(p, step.data)
	step.data = step.data[n:]
	if len(step.data) == 0 {
		t.steps = t.steps[1:]
	}
	return n, nil
}

// Write writes to the write buffer.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Opts PortOptions
}

// NewMockSerialPortFactory creates a new MockSerialPortFactory.
func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

// Open returns the configured port or error.
func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Opts: opts})

	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
