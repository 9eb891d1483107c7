package ingestion

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"BookEngine/internal/engine"
	"BookEngine/internal/observability"
)

// Worker drains the raw feed channel, parses each message, and applies
// it to the engine façade. Parse failures are logged, counted, and
// acknowledged: a malformed payload never redelivers. Apply failures
// (unknown book, unregistered venue) NAK so the message redelivers once
// the refdata that defines it has been consumed.
type Worker struct {
	eng *engine.Engine
	ch  <-chan RawEvent
	log zerolog.Logger
	m   *observability.Metrics
}

func NewWorker(eng *engine.Engine, ch <-chan RawEvent, log zerolog.Logger, m *observability.Metrics) *Worker {
	return &Worker{eng: eng, ch: ch, log: log, m: m}
}

// Run processes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-w.ch:
			w.handle(raw)
		}
	}
}

func (w *Worker) handle(raw RawEvent) {
	class := subjectClass(raw.Subject)
	if w.m != nil {
		w.m.FeedEvents.WithLabelValues(class).Inc()
	}

	ev, err := ParseRawEvent(raw)
	if err != nil {
		if w.m != nil {
			w.m.FeedParseErr.WithLabelValues(class).Inc()
		}
		w.log.Warn().Err(err).Str("subject", raw.Subject).Msg("drop malformed feed event")
		raw.AckFunc()
		return
	}

	if err := ev.Apply(w.eng); err != nil {
		w.log.Warn().Err(err).Str("subject", raw.Subject).Msg("feed event not applicable, will redeliver")
		raw.NakFunc()
		return
	}
	raw.AckFunc()
}

// subjectClass maps md.feed.order.XA.INST1 to "order".
func subjectClass(subject string) string {
	parts := strings.SplitN(subject, ".", 4)
	if len(parts) < 3 {
		return "unknown"
	}
	return parts[2]
}
