package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BookEngine/internal/observability"
)

// Applier consumes replayed frames in capture order. Implemented by the
// engine façade; replaying a capture into a fresh engine rebuilds the
// book state that produced it, and replaying it twice is a no-op for
// state that keys by order ID and level price.
type Applier interface {
	ApplyFrame(f Frame) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(f Frame) error

func (fn ApplierFunc) ApplyFrame(f Frame) error { return fn(f) }

// Replayer reads a capture file and feeds its frames to an Applier.
type Replayer struct {
	path string
	log  zerolog.Logger
	m    *observability.Metrics

	// Begin is the virtual-clock start. Frames stamped before it are
	// still applied so book state stays complete; appliers consult
	// FastForwarding to suppress downstream side effects for them.
	Begin int64
	// Filter drops frames it returns false for. Refdata frames bypass
	// the filter so instrument and book definitions always replay.
	Filter func(Frame) bool
}

func NewReplayer(path string, log zerolog.Logger, m *observability.Metrics) *Replayer {
	return &Replayer{path: path, log: log, m: m}
}

// FastForwarding reports whether a frame stamped ts is before the
// configured begin timestamp.
func (rp *Replayer) FastForwarding(ts int64) bool {
	return rp.Begin > 0 && ts < rp.Begin
}

func refdataFrame(t FrameType) bool {
	switch t {
	case FrameAddInstrument, FrameDelInstrument, FrameAddOrderBook, FrameDelOrderBook:
		return true
	}
	return false
}

// Replay streams the capture through the applier. The capture session ID
// is returned so callers can correlate with the original publisher.
func (rp *Replayer) Replay(ctx context.Context, a Applier) (uuid.UUID, error) {
	var session uuid.UUID

	f, err := os.Open(rp.path)
	if err != nil {
		return session, fmt.Errorf("replay: open %s: %w", rp.path, err)
	}
	defer f.Close()

	hdr := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return session, fmt.Errorf("replay: read header: %w", err)
	}
	if [4]byte(hdr[:4]) != fileMagic {
		return session, fmt.Errorf("replay: %s is not a capture file", rp.path)
	}
	if v := getU16(hdr[4:]); v != fileVersion {
		return session, fmt.Errorf("replay: unsupported capture version %d", v)
	}
	copy(session[:], hdr[16:])

	rp.log.Info().
		Str("path", rp.path).
		Str("session", session.String()).
		Int64("begin", rp.Begin).
		Msg("replay started")

	var (
		buf     []byte
		scratch = make([]byte, 1<<16)
		applied uint64
	)
	for {
		select {
		case <-ctx.Done():
			return session, ctx.Err()
		default:
		}

		fr, n, err := Decode(buf)
		if err != nil {
			return session, err
		}
		if fr == nil {
			nr, rerr := f.Read(scratch)
			if nr > 0 {
				buf = append(buf, scratch[:nr]...)
				continue
			}
			if errors.Is(rerr, io.EOF) {
				if len(buf) > 0 {
					return session, fmt.Errorf("replay: trailing garbage (%d bytes)", len(buf))
				}
				rp.log.Info().Uint64("frames", applied).Msg("replay complete")
				return session, nil
			}
			return session, fmt.Errorf("replay: read: %w", rerr)
		}
		buf = buf[n:]

		if rp.Filter != nil && !refdataFrame(fr.Type()) && !rp.Filter(fr) {
			continue
		}
		if err := a.ApplyFrame(fr); err != nil {
			return session, fmt.Errorf("replay: apply %s: %w", fr.Type(), err)
		}
		applied++
		if rp.m != nil {
			rp.m.ReplayFrames.Inc()
		}
	}
}
