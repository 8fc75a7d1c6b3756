package annotate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kernel/boardcol/pkg/mapping"
	"github.com/pterm/pterm"
	"golang.org/x/net/html"
)

// MappingSource provides the mapping. cache.Service satisfies it.
type MappingSource interface {
	Mapping(ctx context.Context) (mapping.Mapping, error)
	Clear(ctx context.Context) error
}

// State is the watcher's position in the dialog lifecycle.
type State int32

const (
	Idle State = iota
	Watching
	DialogDetected
	Annotating
	Annotated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Watching:
		return "watching"
	case DialogDetected:
		return "dialog-detected"
	case Annotating:
		return "annotating"
	case Annotated:
		return "annotated"
	}
	return "unknown"
}

// Event is something that happened to the observed page.
type Event interface{ event() }

// Mutation reports a DOM change. Doc is the current document. Added holds
// inserted subtrees and ClassChanged the elements whose class attribute
// changed; they decide whether the change is worth annotating.
type Mutation struct {
	Doc          *html.Node
	Added        []*html.Node
	ClassChanged []*html.Node
}

// Navigate reports a URL change. Doc, if set, replaces the current document.
type Navigate struct {
	URL string
	Doc *html.Node
}

// Focus reports the window regaining focus.
type Focus struct{}

// Visible reports the page becoming visible.
type Visible struct{}

// Refresh asks for the cache to be cleared and the mapping refetched. The
// outcome is sent on Done if it is non-nil.
type Refresh struct {
	Done chan<- error
}

func (Mutation) event() {}
func (Navigate) event() {}
func (Focus) event()    {}
func (Visible) event()  {}
func (Refresh) event()  {}

// Sink receives the document after every annotation pass that changed it.
type Sink func(doc *html.Node, res Result) error

const (
	DefaultDebounce      = 300 * time.Millisecond
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultFocusDelay    = 500 * time.Millisecond
	DefaultNavigateDelay = time.Second
	DefaultMaxRetries    = 5
)

// Watcher keeps the injected column in sync with a stream of page events.
// All state is owned by the goroutine running Run.
type Watcher struct {
	source MappingSource
	sink   Sink
	logger *pterm.Logger

	debounce      time.Duration
	retryDelay    time.Duration
	focusDelay    time.Duration
	navigateDelay time.Duration
	maxRetries    int

	state   atomic.Int32
	doc     *html.Node
	url     string
	mapping mapping.Mapping

	// pending is the delay before the next evaluation, zero when none is
	// scheduled. Run turns it into a timer.
	pending time.Duration
	retries int
	// removed counts injected elements dropped by a refresh that the sink
	// has not seen yet.
	removed int
}

type WatcherOption func(*Watcher)

func WithSink(s Sink) WatcherOption {
	return func(w *Watcher) { w.sink = s }
}

func WithLogger(l *pterm.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDelays overrides the debounce, retry, focus and navigation delays.
// Zero values keep the defaults.
func WithDelays(debounce, retry, focus, navigate time.Duration) WatcherOption {
	return func(w *Watcher) {
		if debounce > 0 {
			w.debounce = debounce
		}
		if retry > 0 {
			w.retryDelay = retry
		}
		if focus > 0 {
			w.focusDelay = focus
		}
		if navigate > 0 {
			w.navigateDelay = navigate
		}
	}
}

func WithMaxRetries(n int) WatcherOption {
	return func(w *Watcher) {
		if n >= 0 {
			w.maxRetries = n
		}
	}
}

func NewWatcher(source MappingSource, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:        source,
		logger:        &pterm.DefaultLogger,
		debounce:      DefaultDebounce,
		retryDelay:    DefaultRetryDelay,
		focusDelay:    DefaultFocusDelay,
		navigateDelay: DefaultNavigateDelay,
		maxRetries:    DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) State() State { return State(w.state.Load()) }

func (w *Watcher) setState(s State) { w.state.Store(int32(s)) }

// Run consumes events until ctx is done or events is closed.
func (w *Watcher) Run(ctx context.Context, events <-chan Event) error {
	w.setState(Watching)
	defer w.setState(Idle)

	var timer *time.Timer
	var fire <-chan time.Time
	reschedule := func() {
		if timer != nil {
			timer.Stop()
			timer, fire = nil, nil
		}
		if w.pending > 0 {
			timer = time.NewTimer(w.pending)
			fire = timer.C
			w.pending = 0
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if w.handle(ctx, ev) {
				reschedule()
			}
		case <-fire:
			timer, fire = nil, nil
			w.tick(ctx)
			reschedule()
		}
	}
}

// handle applies one event. It reports whether the evaluation schedule
// changed.
func (w *Watcher) handle(ctx context.Context, ev Event) bool {
	switch e := ev.(type) {
	case Mutation:
		if e.Doc != nil {
			w.doc = e.Doc
		}
		if !relevant(e) {
			return false
		}
		w.setState(DialogDetected)
		w.ensureMapping(ctx)
		w.schedule(w.debounce)
		return true

	case Navigate:
		if e.URL == w.url && e.Doc == nil {
			return false
		}
		w.logger.Debug("navigation", w.logger.Args("url", e.URL))
		w.url = e.URL
		if e.Doc != nil {
			w.doc = e.Doc
		}
		w.ensureMapping(ctx)
		w.schedule(w.navigateDelay)
		return true

	case Focus:
		w.ensureMapping(ctx)
		if w.doc != nil && HasDialog(w.doc) {
			w.schedule(w.focusDelay)
			return true
		}
		return false

	case Visible:
		w.ensureMapping(ctx)
		return false

	case Refresh:
		err := w.forceRefresh(ctx)
		scheduled := false
		if err == nil && w.doc != nil {
			// Cells hold names from the old mapping; rebuild them.
			w.removed += RemoveColumns(w.doc)
			w.schedule(w.debounce)
			scheduled = true
		}
		if e.Done != nil {
			e.Done <- err
		}
		return scheduled
	}
	return false
}

// schedule starts a fresh evaluation cycle, replacing any pending one.
func (w *Watcher) schedule(d time.Duration) {
	w.pending = d
	w.retries = 0
}

// tick runs a scheduled evaluation and arranges a retry when the column is
// still missing. Retries stop silently after maxRetries.
func (w *Watcher) tick(ctx context.Context) {
	if w.evaluate(ctx) {
		return
	}
	if w.retries < w.maxRetries {
		w.retries++
		w.pending = w.retryDelay
		return
	}
	w.logger.Debug("giving up on annotation", w.logger.Args("attempts", w.retries+1))
}

// evaluate annotates the current document and reports whether the injected
// header is visible afterwards.
func (w *Watcher) evaluate(ctx context.Context) bool {
	w.setState(Annotating)
	if w.mapping.Empty() {
		w.ensureMapping(ctx)
	}
	if w.mapping.Empty() || w.doc == nil {
		w.setState(Watching)
		return false
	}

	res := Annotate(w.doc, w.mapping)
	res.Removed += w.removed
	w.removed = 0
	w.logger.Trace("annotate", w.logger.Args("outcome", res.Outcome.String(), "rows", res.Rows, "removed", res.Removed))
	if res.Changed() && w.sink != nil {
		if err := w.sink(w.doc, res); err != nil {
			w.logger.Warn("could not publish annotated page", w.logger.Args("error", err))
		}
	}

	if HasInjectedHeader(w.doc) {
		w.setState(Annotated)
		return true
	}
	w.setState(Watching)
	return false
}

// ensureMapping fetches the mapping only when none is held.
func (w *Watcher) ensureMapping(ctx context.Context) {
	if !w.mapping.Empty() {
		return
	}
	m, err := w.source.Mapping(ctx)
	if err != nil {
		w.logger.Error("could not load client mapping", w.logger.Args("error", err))
		w.mapping = mapping.Mapping{}
		return
	}
	w.mapping = m
	w.logger.Info("client mapping loaded", w.logger.Args("entries", m.Len()))
}

func (w *Watcher) forceRefresh(ctx context.Context) error {
	w.mapping = nil
	if err := w.source.Clear(ctx); err != nil {
		return err
	}
	m, err := w.source.Mapping(ctx)
	if err != nil {
		w.mapping = mapping.Mapping{}
		return err
	}
	w.mapping = m
	return nil
}

// relevant reports whether a mutation may have shown the dialog, switched
// its tab or replaced its table.
func relevant(m Mutation) bool {
	for _, n := range m.Added {
		if n == nil || n.Type != html.ElementNode {
			continue
		}
		if v, ok := attr(n, "id"); ok && v == DialogID {
			return true
		}
		if byID(n, DialogID) != nil {
			return true
		}
		if hasClass(n, "tab-pane") || hasClass(n, "active") {
			return true
		}
		if findFirst(n, func(c *html.Node) bool { return hasClass(c, TableClass) }) != nil {
			return true
		}
	}
	for _, n := range m.ClassChanged {
		if hasClass(n, "tab-pane") {
			return true
		}
	}
	return false
}
