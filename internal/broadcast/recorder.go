package broadcast

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BookEngine/internal/observability"
)

// recording file header: magic | version u16 | reserved u16 |
// created-unix-nanos i64 | session uuid (16 bytes)
var fileMagic = [4]byte{'M', 'D', 'B', 'C'}

const (
	fileVersion    = 1
	fileHeaderSize = 4 + 2 + 2 + 8 + 16
)

// Recorder appends broadcast frames to a capture file. Safe for
// concurrent use; shard goroutines serialize through one writer lock.
type Recorder struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	session uuid.UUID
	frames  uint64
	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewRecorder creates path (truncating any previous capture) and writes
// the file header. Session identifies this capture in the header and in
// live-publish headers so consumers can tell recordings apart.
func NewRecorder(path string, session uuid.UUID, log zerolog.Logger, m *observability.Metrics) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}

	hdr := make([]byte, fileHeaderSize)
	copy(hdr, fileMagic[:])
	putU16(hdr[4:], fileVersion)
	putU16(hdr[6:], 0)
	copy(hdr[8:], u64bytes(uint64(time.Now().UnixNano())))
	copy(hdr[16:], session[:])

	w := bufio.NewWriterSize(f, 1<<16)
	if _, err := w.Write(hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("recorder: write header: %w", err)
	}

	log.Info().Str("path", path).Str("session", session.String()).Msg("recording started")
	return &Recorder{f: f, w: w, session: session, log: log, metrics: m}, nil
}

// Session returns the capture's session ID.
func (r *Recorder) Session() uuid.UUID { return r.session }

// Write appends one frame.
func (r *Recorder) Write(f Frame) error {
	buf := Encode(f)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("recorder: closed")
	}
	if _, err := r.w.Write(buf); err != nil {
		return fmt.Errorf("recorder: write frame: %w", err)
	}
	r.frames++
	if r.metrics != nil {
		r.metrics.BroadcastFrames.WithLabelValues(f.Type().String()).Inc()
		r.metrics.BroadcastBytes.Add(float64(len(buf)))
	}
	return nil
}

// Flush pushes buffered frames to the OS.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	return r.w.Flush()
}

// Close flushes and closes the capture file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	err := r.w.Flush()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	r.log.Info().Uint64("frames", r.frames).Msg("recording closed")
	r.w, r.f = nil, nil
	return err
}

func u64bytes(v uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b[:]
}
