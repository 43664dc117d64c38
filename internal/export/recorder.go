package export

import (
	"io"
	"log/slog"

	"github.com/alanyoungcy/cfebook/internal/book"
	"github.com/alanyoungcy/cfebook/internal/domain"
	"github.com/alanyoungcy/cfebook/internal/feed"
	"github.com/alanyoungcy/cfebook/internal/metrics"
)

// ShowBook asks for a symbol's book to be printed when the feed clock
// reaches At exactly ("YYYY-MM-DD HH:MM:SS.nnnnnnnnn").
type ShowBook struct {
	Symbol string
	At     string
	Out    io.Writer
}

// Recorder is the per-session bridge between the dispatcher and the export
// writers. It follows the feed cursor, names instruments and stamps each BBO
// change before handing it to the writer.
type Recorder struct {
	session string
	clock   Clock
	namer   *Namer
	writer  domain.UpdateWriter
	logger  *slog.Logger
	cursor  feed.Cursor

	show   *ShowBook
	books  *book.Manager
	shown  bool
	err    error
	events uint64
}

// NewRecorder creates a recorder for session. w may be nil, in which case
// changes are only counted.
func NewRecorder(session string, w domain.UpdateWriter, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		session: session,
		namer:   NewNamer(logger),
		writer:  w,
		logger:  logger.With(slog.String("component", "recorder"), slog.String("session", session)),
	}
}

// ShowBookAt arranges for the book of req.Symbol, looked up in m, to be
// rendered once when the feed time equals req.At.
func (r *Recorder) ShowBookAt(req ShowBook, m *book.Manager) {
	r.show = &req
	r.books = m
}

func (r *Recorder) OnCursor(c feed.Cursor) {
	r.cursor = c
	r.clock.Update(c)
}

func (r *Recorder) OnInstrument(def feed.InstrumentDefinition) {
	// Errors are logged by the namer; a partial name is still usable.
	_, _ = r.namer.Register(def.Instrument)
}

func (r *Recorder) OnBBOChange(tag domain.EventTag, symbol domain.Symbol, bbo domain.BBO, status domain.TradingStatus) {
	r.events++
	metrics.IncBBOChange(tag.String())
	if r.writer == nil || r.err != nil {
		return
	}
	u := domain.BBOUpdate{
		Session: r.session,
		Stamp:   r.clock.Stamp(),
		At:      r.clock.Time(),
		PktSeq:  r.cursor.PktSeq,
		MsgSeq:  r.cursor.MsgSeq,
		Tag:     tag,
		Symbol:  r.namer.Name(symbol),
		BBO:     bbo,
		Status:  status,
	}
	if err := r.writer.Write(u); err != nil {
		r.err = err
		r.logger.Error("recorder: write failed, export stopped",
			slog.Uint64("pkt_seq", u.PktSeq),
			slog.String("error", err.Error()),
		)
	}
}

// AfterUnit is called once a transport unit has been applied. It renders
// the requested book if the feed clock matches.
func (r *Recorder) AfterUnit() {
	if r.show == nil || r.shown || r.books == nil {
		return
	}
	if r.clock.Stamp() != r.show.At {
		return
	}
	sym, ok := r.namer.Lookup(r.show.Symbol)
	if !ok {
		sym = domain.ParseSymbol(r.show.Symbol)
	}
	b, ok := r.books.Book(sym)
	if !ok {
		r.logger.Warn("recorder: show-book symbol has no book", slog.String("symbol", r.show.Symbol))
		r.shown = true
		return
	}
	if err := book.Render(r.show.Out, b, r.show.Symbol); err != nil {
		r.logger.Warn("recorder: render book", slog.String("error", err.Error()))
	}
	r.shown = true
}

// Err returns the first writer error.
func (r *Recorder) Err() error { return r.err }

// Changes returns the number of BBO changes seen.
func (r *Recorder) Changes() uint64 { return r.events }

func (r *Recorder) Clock() *Clock { return &r.clock }

func (r *Recorder) Namer() *Namer { return r.namer }
