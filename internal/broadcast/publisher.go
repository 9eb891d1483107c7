package broadcast

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"BookEngine/internal/observability"
)

// Publisher pushes encoded frames onto NATS for live downstream
// consumers. Subjects partition by kind and instrument:
//
//	md.refdata                refdata frames (instruments, listings)
//	md.l1.<instrument>        top-of-book deltas
//	md.l2.<instrument>        price-level deltas
//	md.l3.<instrument>        individual order events
//	md.trade.<instrument>     trade prints and corrections
//	md.reset.<instrument>     book resets
//	md.session.<venue>        trading-phase changes
//
// so a consumer can subscribe to md.l1.> or md.>.
type Publisher struct {
	nc      *nats.Conn
	session uuid.UUID
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(nc *nats.Conn, session uuid.UUID, log zerolog.Logger, m *observability.Metrics) *Publisher {
	return &Publisher{nc: nc, session: session, log: log, metrics: m}
}

// Session returns the live session ID stamped into subject headers.
func (p *Publisher) Session() uuid.UUID { return p.session }

// Subject returns the NATS subject for a frame.
func Subject(f Frame) string {
	switch f.Type() {
	case FrameAddInstrument, FrameDelInstrument, FrameAddOrderBook, FrameDelOrderBook,
		FrameAddTickTbl, FrameDelTickTbl:
		return "md.refdata"
	case FrameL1:
		return "md.l1." + f.BookKey().ID
	case FrameLevel:
		return "md.l2." + f.BookKey().ID
	case FrameOrder:
		return "md.l3." + f.BookKey().ID
	case FrameTrade:
		return "md.trade." + f.BookKey().ID
	case FrameReset:
		return "md.reset." + f.BookKey().ID
	case FrameSession:
		return "md.session." + string(f.BookKey().Venue)
	default:
		return "md.unknown"
	}
}

// Publish encodes and sends one frame.
func (p *Publisher) Publish(f Frame) error {
	msg := nats.NewMsg(Subject(f))
	msg.Header.Set("Md-Session", p.session.String())
	msg.Data = Encode(f)

	if err := p.nc.PublishMsg(msg); err != nil {
		if p.metrics != nil {
			p.metrics.PublishErrors.Inc()
		}
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	if p.metrics != nil {
		p.metrics.BroadcastFrames.WithLabelValues(f.Type().String()).Inc()
		p.metrics.BroadcastBytes.Add(float64(len(msg.Data)))
	}
	return nil
}

// Flush waits for buffered publications to reach the server.
func (p *Publisher) Flush() error {
	return p.nc.Flush()
}
