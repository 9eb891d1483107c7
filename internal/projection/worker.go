package projection

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"BookEngine/internal/book"
	"BookEngine/internal/observability"
)

// Worker drains projection updates into Postgres. Rows coalesce before
// flushing, the newest snapshot per book wins, so a burst of L1 churn
// costs one upsert. Flush failures are logged and retried on the next
// tick; projections are eventually consistent, never authoritative.
type Worker struct {
	db  *sql.DB
	in  <-chan Update
	log zerolog.Logger
	m   *observability.Metrics

	batchMax   int
	flushEvery time.Duration
}

func NewWorker(db *sql.DB, in <-chan Update, log zerolog.Logger, m *observability.Metrics) *Worker {
	return &Worker{
		db:         db,
		in:         in,
		log:        log,
		m:          m,
		batchMax:   512,
		flushEvery: 250 * time.Millisecond,
	}
}

// pending coalesces updates between flushes.
type pending struct {
	l1          map[book.Key]L1Row
	instruments map[book.Key]InstrumentRow
	deletes     map[book.Key]struct{}
}

func newPending() *pending {
	return &pending{
		l1:          make(map[book.Key]L1Row),
		instruments: make(map[book.Key]InstrumentRow),
		deletes:     make(map[book.Key]struct{}),
	}
}

func (p *pending) add(u Update) {
	switch {
	case u.L1 != nil:
		p.l1[u.L1.Key] = *u.L1
	case u.Instrument != nil:
		delete(p.deletes, u.Instrument.Key)
		p.instruments[u.Instrument.Key] = *u.Instrument
	case u.Delete != nil:
		delete(p.instruments, *u.Delete)
		p.deletes[*u.Delete] = struct{}{}
	}
}

func (p *pending) size() int {
	return len(p.l1) + len(p.instruments) + len(p.deletes)
}

// Run processes until ctx is cancelled, flushing what remains on exit.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	p := newPending()
	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background(), p)
			return
		case u := <-w.in:
			p.add(u)
			if p.size() >= w.batchMax {
				p = w.flush(ctx, p)
			}
		case <-ticker.C:
			p = w.flush(ctx, p)
		}
	}
}

// flush writes the pending batch in one transaction. On failure the
// batch is kept and merged with newer updates for the next attempt.
func (w *Worker) flush(ctx context.Context, p *pending) *pending {
	if p.size() == 0 {
		return p
	}
	start := time.Now()

	err := w.writeBatch(ctx, p)
	if err != nil {
		w.log.Error().Err(err).Int("rows", p.size()).Msg("projection flush failed, retrying next tick")
		return p
	}

	if w.m != nil {
		w.m.ProjectionDur.Observe(time.Since(start).Seconds())
		w.m.ProjectionRows.WithLabelValues("md_l1_snapshots").Add(float64(len(p.l1)))
		w.m.ProjectionRows.WithLabelValues("md_instruments").Add(float64(len(p.instruments) + len(p.deletes)))
	}
	return newPending()
}

func (w *Worker) writeBatch(ctx context.Context, p *pending) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, row := range p.instruments {
		if err := upsertInstrument(ctx, tx, key, row); err != nil {
			return err
		}
	}
	for key := range p.deletes {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM md_instruments WHERE venue = $1 AND segment = $2 AND instrument = $3`,
			string(key.Venue), string(key.Segment), key.ID); err != nil {
			return err
		}
	}
	for key, row := range p.l1 {
		if err := upsertL1(ctx, tx, key, row.Data); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func upsertInstrument(ctx context.Context, tx *sql.Tx, key book.Key, row InstrumentRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO md_instruments (
			venue, segment, instrument, symbol, alt_symbol,
			under_venue, under_segment, underlying,
			maturity, put_call, strike, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (venue, segment, instrument) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			alt_symbol = EXCLUDED.alt_symbol,
			under_venue = EXCLUDED.under_venue,
			under_segment = EXCLUDED.under_segment,
			underlying = EXCLUDED.underlying,
			maturity = EXCLUDED.maturity,
			put_call = EXCLUDED.put_call,
			strike = EXCLUDED.strike,
			updated_at = NOW()`,
		string(key.Venue), string(key.Segment), key.ID,
		row.Ref.Symbol, row.Ref.AltSymbol,
		string(row.Ref.UnderVenue), string(row.Ref.UnderSegment), row.Ref.Underlying,
		row.Ref.Maturity, int(row.Ref.PutCall), row.Ref.Strike,
	)
	return err
}

func upsertL1(ctx context.Context, tx *sql.Tx, key book.Key, d book.L1Data) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO md_l1_snapshots (
			venue, segment, instrument, stamp_ns,
			last_px, last_qty, bid_px, bid_qty, ask_px, ask_qty,
			high_px, low_px, volume, turnover, tick_dir, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		ON CONFLICT (venue, segment, instrument) DO UPDATE SET
			stamp_ns = EXCLUDED.stamp_ns,
			last_px = EXCLUDED.last_px,
			last_qty = EXCLUDED.last_qty,
			bid_px = EXCLUDED.bid_px,
			bid_qty = EXCLUDED.bid_qty,
			ask_px = EXCLUDED.ask_px,
			ask_qty = EXCLUDED.ask_qty,
			high_px = EXCLUDED.high_px,
			low_px = EXCLUDED.low_px,
			volume = EXCLUDED.volume,
			turnover = EXCLUDED.turnover,
			tick_dir = EXCLUDED.tick_dir,
			updated_at = NOW()`,
		string(key.Venue), string(key.Segment), key.ID, d.Stamp,
		d.Last, d.LastQty, d.Bid, d.BidQty, d.Ask, d.AskQty,
		d.High, d.Low, d.Volume, d.Turnover, d.TickDir.String(),
	)
	return err
}
