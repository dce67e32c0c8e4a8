package reqfilter

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/reqfilter/rules"
	"github.com/AdguardTeam/reqfilter/rulesource"
	"github.com/AdguardTeam/reqfilter/storage"
)

// ErrEngineNotReady is returned by commands that require the rules to be
// loaded when the pipeline hasn't finished initializing yet.
const ErrEngineNotReady errors.Error = "engine is not ready"

// errStarted is returned by [Pipeline.Start] when it is called more than once.
const errStarted errors.Error = "pipeline is already started"

// State is the state of a [Pipeline].
type State uint32

// State values.  The only transition is from StateUninitialized to StateReady.
const (
	StateUninitialized State = iota
	StateReady
)

// String implements the [fmt.Stringer] interface for State.
func (s State) String() (str string) {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("!bad_state_%d", uint32(s))
	}
}

// Decision is the verdict for a single request.
type Decision uint8

// Decision values.
const (
	DecisionAllow Decision = iota
	DecisionBlock
)

// String implements the [fmt.Stringer] interface for Decision.
func (d Decision) String() (s string) {
	if d == DecisionBlock {
		return "block"
	}

	return "allow"
}

// PendingRequest is a request that arrived before the pipeline was ready.
type PendingRequest struct {
	// URL is the URL of the request.
	URL string
}

// Config is the configuration of a [Pipeline].
type Config struct {
	// Logger is used to log the operation of the pipeline.  It must not be
	// nil.
	Logger *slog.Logger

	// Storage is the persisted state.  It must not be nil.
	Storage storage.Interface

	// Source is the source of the default rule configuration.  If nil,
	// [rulesource.Bundled] is used.  If loading from it fails, the bundled
	// configuration is used as well.
	Source rulesource.Interface

	// Now returns the current time.  If nil, [time.Now] is used.
	Now func() (now time.Time)

	// CacheSize is the size of the decision cache in bytes.  If not positive,
	// decisions are not cached.
	CacheSize int
}

// activeRules is a rule set along with its generation.
type activeRules struct {
	rs  *rules.RuleSet
	gen uint64
}

// Pipeline decides whether requests must be blocked.  Before the rules are
// loaded, all requests are allowed and queued for logging.  It is safe for
// concurrent use.
type Pipeline struct {
	logger   *slog.Logger
	storage  storage.Interface
	source   rulesource.Interface
	now      func() (now time.Time)
	cache    *decisionCache
	counters *counterWriter

	// ready is closed when the pipeline is ready and the pending requests
	// are drained.
	ready chan struct{}

	// stop is closed on shutdown.
	stop     chan struct{}
	stopOnce *sync.Once
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	started  *atomic.Bool

	// rules is the active rule set.  It's nil until the pipeline is ready.
	rules *atomic.Pointer[activeRules]

	// enabled is true if the filtering is enabled.
	enabled *atomic.Bool

	// state is the current [State].  It's only changed with mu locked, but
	// it's read without it on the fast path.
	state *atomic.Uint32

	// cmdMu serializes commands, so that the persisted state is written in
	// the same order as it's applied.
	cmdMu *sync.Mutex

	// mu protects the fields below.
	mu *sync.Mutex

	// pending are the requests received before the pipeline became ready, in
	// arrival order.
	pending []PendingRequest

	// stats are the block counters.
	stats *blockStats

	// rulesText is the raw configuration of the active rules.
	rulesText []byte

	// gen is the generation of the last rule set.
	gen uint64

	// enabledSet is true if the enabled flag was set by a command, so the
	// stored one must not be used.
	enabledSet bool

	// statsCleared is true if the counters were cleared by a command, so the
	// stored ones must not be used.
	statsCleared bool
}

// New returns a new properly initialized *Pipeline.  c must not be nil.
func New(c *Config) (p *Pipeline) {
	src := c.Source
	if src == nil {
		src = rulesource.Bundled{}
	}

	now := c.Now
	if now == nil {
		now = time.Now
	}

	p = &Pipeline{
		logger:   c.Logger,
		storage:  c.Storage,
		source:   src,
		now:      now,
		cache:    newDecisionCache(c.CacheSize),
		counters: newCounterWriter(c.Logger, c.Storage),
		ready:    make(chan struct{}),
		stop:     make(chan struct{}),
		stopOnce: &sync.Once{},
		wg:       &sync.WaitGroup{},
		started:  &atomic.Bool{},
		rules:    &atomic.Pointer[activeRules]{},
		enabled:  &atomic.Bool{},
		state:    &atomic.Uint32{},
		cmdMu:    &sync.Mutex{},
		mu:       &sync.Mutex{},
		stats:    newBlockStats(),
	}

	p.enabled.Store(true)

	return p
}

// type check
var _ service.Interface = (*Pipeline)(nil)

// Start implements the [service.Interface] interface for *Pipeline.  It starts
// loading the rules in the background and returns immediately.
func (p *Pipeline) Start(_ context.Context) (err error) {
	if !p.started.CompareAndSwap(false, true) {
		return errStarted
	}

	// Use a separate context, since the one passed to Start is only valid
	// during the call.
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(2)

	go func() {
		defer p.wg.Done()

		p.counters.run(context.Background(), p.stop)
	}()

	go func() {
		defer p.wg.Done()

		p.initialize(ctx)
	}()

	return nil
}

// Shutdown implements the [service.Interface] interface for *Pipeline.  It
// cancels the initialization, if it's still running, and writes the latest
// counters.
func (p *Pipeline) Shutdown(ctx context.Context) (err error) {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}

		close(p.stop)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pipeline goroutines: %w", ctx.Err())
	}
}

// Ready returns a channel that is closed when the pipeline has become ready
// and the requests received before that have been drained.
func (p *Pipeline) Ready() (ch <-chan struct{}) {
	return p.ready
}

// State returns the current state of the pipeline.
func (p *Pipeline) State() (s State) {
	return State(p.state.Load())
}

// HandleRequest returns the decision for the request to urlStr.  It never
// blocks on I/O.  Requests received before the pipeline is ready are allowed
// and queued.
func (p *Pipeline) HandleRequest(urlStr string) (d Decision) {
	if p.State() != StateReady && p.enqueue(urlStr) {
		return DecisionAllow
	}

	if !p.enabled.Load() {
		return DecisionAllow
	}

	ar := p.rules.Load()
	res := p.match(ar, urlStr)
	if !res.Block {
		return DecisionAllow
	}

	p.countBlock(urlStr, res)

	return DecisionBlock
}

// enqueue adds urlStr to the pending queue unless the pipeline has become ready
// concurrently.  ok is true if the request has been queued.
func (p *Pipeline) enqueue(urlStr string) (ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() == StateReady {
		return false
	}

	p.pending = append(p.pending, PendingRequest{URL: urlStr})

	return true
}

// match returns the result of matching urlStr against ar, using the cache if
// possible.
func (p *Pipeline) match(ar *activeRules, urlStr string) (res MatchResult) {
	res, ok := p.cache.get(ar.gen, urlStr)
	if ok {
		return res
	}

	res = Match(ar.rs, urlStr)
	p.cache.set(ar.gen, urlStr, res)

	return res
}

// countBlock increments the counters and schedules them for writing.
func (p *Pipeline) countBlock(urlStr string, res MatchResult) {
	req := rules.NewRequest(urlStr)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.inc(p.today(), req.Domain)
	p.counters.push(p.stats.counters())

	p.logger.Debug(
		"blocked",
		"url", req.URL,
		"domain", req.Domain,
		"category", res.Category,
		"rule", res.Rule,
	)
}

// today returns the current calendar day.
func (p *Pipeline) today() (day string) {
	return p.now().Format(dayLayout)
}

// initialize loads the rules and the persisted state and makes the pipeline
// ready.
func (p *Pipeline) initialize(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, p.logger)

	rs, text := p.loadDefault(ctx)

	stored, err := p.storage.RuleConfig(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "reading stored rules", slogutil.KeyError, err)
	} else if stored != nil {
		var storedRS *rules.RuleSet
		storedRS, err = rules.CompileJSON(stored)
		if err != nil {
			p.logger.WarnContext(ctx, "stored rules ignored", slogutil.KeyError, err)
		} else {
			rs, text = storedRS, stored
		}
	}

	p.logWarnings(ctx, rs)

	enabled, err := p.storage.Enabled(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "reading enabled flag", slogutil.KeyError, err)
		enabled = true
	}

	c, err := p.storage.Counters(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "reading counters", slogutil.KeyError, err)
		c = storage.Counters{}
	}

	pending := p.becomeReady(rs, text, enabled, c)
	p.drain(ctx, rs, pending)

	p.logger.InfoContext(
		ctx,
		"ready",
		"rules", rs.Len(),
		"pending", len(pending),
		"enabled", p.enabled.Load(),
	)

	close(p.ready)
}

// loadDefault returns the default rules.  If the configured source fails, the
// bundled configuration is used.
func (p *Pipeline) loadDefault(ctx context.Context) (rs *rules.RuleSet, text []byte) {
	text, err := p.source.Load(ctx)
	if err == nil {
		rs, err = rules.CompileJSON(text)
	}

	if err != nil {
		p.logger.WarnContext(ctx, "using bundled rules", slogutil.KeyError, err)

		text = rules.DefaultText()
		rs = errors.Must(rules.CompileJSON(text))
	}

	return rs, text
}

// becomeReady makes rs active, applies the persisted state unless it's been
// overridden by commands, and transitions the pipeline into [StateReady].  It
// returns the requests received so far.
func (p *Pipeline) becomeReady(
	rs *rules.RuleSet,
	text []byte,
	enabled bool,
	c storage.Counters,
) (pending []PendingRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabledSet {
		p.enabled.Store(enabled)
	}

	if !p.statsCleared {
		p.stats.load(c, p.today())
	}

	p.setRules(rs, text)

	pending, p.pending = p.pending, nil
	p.state.Store(uint32(StateReady))

	return pending
}

// drain matches the requests received before the pipeline was ready against
// rs.  The requests have already been allowed, so the results are only logged
// and counted as missed.
func (p *Pipeline) drain(ctx context.Context, rs *rules.RuleSet, pending []PendingRequest) {
	var missed uint64
	for _, r := range pending {
		res := Match(rs, r.URL)
		if !res.Block {
			continue
		}

		missed++
		p.logger.DebugContext(
			ctx,
			"missed at startup",
			"url", r.URL,
			"category", res.Category,
			"rule", res.Rule,
		)
	}

	if missed == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.missed += missed
}

// setRules makes rs the active rule set.  p.mu must be locked.
func (p *Pipeline) setRules(rs *rules.RuleSet, text []byte) {
	p.gen++
	p.rules.Store(&activeRules{rs: rs, gen: p.gen})
	p.rulesText = text
}

// logWarnings logs the non-fatal problems of rs.
func (p *Pipeline) logWarnings(ctx context.Context, rs *rules.RuleSet) {
	for _, w := range rs.Warnings() {
		p.logger.WarnContext(ctx, "rule warning", "warning", w)
	}
}

// UpdateRules compiles data and makes it the active rule configuration.  If the
// pipeline isn't ready, it returns [ErrEngineNotReady].  If data is invalid, it
// returns the compilation error and the previous rules stay active.  A failure
// to persist data is logged but not returned.
func (p *Pipeline) UpdateRules(ctx context.Context, data []byte) (err error) {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	if p.State() != StateReady {
		return ErrEngineNotReady
	}

	rs, err := rules.CompileJSON(data)
	if err != nil {
		// Don't wrap the error, since the caller reports it as is.
		return err
	}

	data = slices.Clone(data)

	p.mu.Lock()
	p.setRules(rs, data)
	p.mu.Unlock()

	p.logWarnings(ctx, rs)
	p.logger.InfoContext(ctx, "rules updated", "rules", rs.Len())

	err = p.storage.SetRuleConfig(ctx, data)
	if err != nil {
		p.logger.ErrorContext(ctx, "storing rules", slogutil.KeyError, err)
	}

	return nil
}

// SetEnabled enables or disables the filtering.  It works in any state and
// never fails.  A failure to persist the flag is logged.
func (p *Pipeline) SetEnabled(ctx context.Context, enabled bool) {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	p.mu.Lock()
	p.enabledSet = true
	p.enabled.Store(enabled)
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "filtering toggled", "enabled", enabled)

	err := p.storage.SetEnabled(ctx, enabled)
	if err != nil {
		p.logger.ErrorContext(ctx, "storing enabled flag", slogutil.KeyError, err)
	}
}

// ClearStats resets the counters and the top domains.  It works in any state
// and never fails.
func (p *Pipeline) ClearStats(ctx context.Context) {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.statsCleared = true
	p.stats.reset(p.today())
	p.counters.push(p.stats.counters())

	p.logger.InfoContext(ctx, "stats cleared")
}

// Stats returns the current statistics and settings.  It works in any state.
func (p *Pipeline) Stats() (st *Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st = &Stats{
		Enabled: p.enabled.Load(),
		Ready:   p.State() == StateReady,
	}

	p.stats.fill(st, p.today())

	return st
}

// RulesText returns the raw configuration of the active rules.  It's nil if
// the pipeline isn't ready.
func (p *Pipeline) RulesText() (data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Clone(p.rulesText)
}
