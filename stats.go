package reqfilter

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/reqfilter/storage"
)

// dayLayout is the layout of the calendar day of the counters.
const dayLayout = "2006-01-02"

// Limits of the top blocked domains list.
const (
	maxTrackedDomains = 1024
	maxTopDomains     = 10
)

// DomainCount is the number of blocked requests to a registrable domain.
type DomainCount struct {
	// Domain is the registrable domain, or the hostname if there is none.
	Domain string `json:"domain"`

	// Count is the number of blocked requests.
	Count uint64 `json:"count"`
}

// Stats is the statistics and the settings of a [Pipeline].
type Stats struct {
	// TopDomains are the most blocked domains since the start or the last
	// clear, most blocked first.
	TopDomains []DomainCount `json:"topDomains"`

	// BlockedToday is the number of requests blocked today.
	BlockedToday uint64 `json:"blockedToday"`

	// TotalBlocked is the number of requests blocked since the last clear.
	TotalBlocked uint64 `json:"totalBlocked"`

	// MissedAtStartup is the number of requests that were allowed before the
	// pipeline became ready but would have been blocked otherwise.
	MissedAtStartup uint64 `json:"missedAtStartup"`

	// Enabled is true if the filtering is enabled.
	Enabled bool `json:"enabled"`

	// Ready is true if the pipeline has finished initializing.
	Ready bool `json:"ready"`
}

// blockStats are the mutable block counters.  It is not safe for concurrent
// use.
type blockStats struct {
	domains      map[string]uint64
	day          string
	blockedToday uint64
	totalBlocked uint64
	missed       uint64
}

// newBlockStats returns new empty block counters.
func newBlockStats() (s *blockStats) {
	return &blockStats{
		domains: map[string]uint64{},
	}
}

// load sets the counters from the persisted ones.  Counters without a day are
// considered to be counted today.
func (s *blockStats) load(c storage.Counters, today string) {
	s.day = c.Day
	if s.day == "" {
		s.day = today
	}

	s.blockedToday = c.BlockedToday
	s.totalBlocked = c.TotalBlocked
}

// inc counts a block of a request to domain on day today.
func (s *blockStats) inc(today, domain string) {
	if s.day != today {
		s.day = today
		s.blockedToday = 0
	}

	s.blockedToday++
	s.totalBlocked++

	if domain == "" {
		return
	}

	if _, ok := s.domains[domain]; ok || len(s.domains) < maxTrackedDomains {
		s.domains[domain]++
	}
}

// reset resets all counters.
func (s *blockStats) reset(today string) {
	clear(s.domains)
	s.day = today
	s.blockedToday = 0
	s.totalBlocked = 0
	s.missed = 0
}

// counters returns the persistable counters.
func (s *blockStats) counters() (c storage.Counters) {
	return storage.Counters{
		Day:          s.day,
		BlockedToday: s.blockedToday,
		TotalBlocked: s.totalBlocked,
	}
}

// fill sets the counter fields of st as of day today.
func (s *blockStats) fill(st *Stats, today string) {
	if s.day == today {
		st.BlockedToday = s.blockedToday
	}

	st.TotalBlocked = s.totalBlocked
	st.MissedAtStartup = s.missed

	top := make([]DomainCount, 0, len(s.domains))
	for d, n := range s.domains {
		top = append(top, DomainCount{Domain: d, Count: n})
	}

	slices.SortFunc(top, func(a, b DomainCount) (res int) {
		if res = cmp.Compare(b.Count, a.Count); res != 0 {
			return res
		}

		return cmp.Compare(a.Domain, b.Domain)
	})

	st.TopDomains = top[:min(len(top), maxTopDomains)]
}

// counterWriter persists counters in the background.  Only the latest pushed
// value is kept, so a slow storage never blocks request handling.
type counterWriter struct {
	logger  *slog.Logger
	storage storage.Interface
	mbox    chan storage.Counters
}

// newCounterWriter returns a new counter writer.
func newCounterWriter(l *slog.Logger, s storage.Interface) (w *counterWriter) {
	return &counterWriter{
		logger:  l,
		storage: s,
		mbox:    make(chan storage.Counters, 1),
	}
}

// push schedules c for writing, replacing any value not yet written.  Pushes
// must be serialized by the caller.
func (w *counterWriter) push(c storage.Counters) {
	for {
		select {
		case w.mbox <- c:
			return
		default:
		}

		select {
		case <-w.mbox:
		default:
		}
	}
}

// run writes pushed counters until stop is closed, after which it writes the
// last pushed value, if any.  It is intended to be used as a goroutine.
func (w *counterWriter) run(ctx context.Context, stop <-chan struct{}) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	for {
		select {
		case c := <-w.mbox:
			w.write(ctx, c)
		case <-stop:
			select {
			case c := <-w.mbox:
				w.write(ctx, c)
			default:
			}

			return
		}
	}
}

// write stores c and logs the error, if any.
func (w *counterWriter) write(ctx context.Context, c storage.Counters) {
	err := w.storage.SetCounters(ctx, c)
	if err != nil {
		w.logger.ErrorContext(ctx, "writing counters", slogutil.KeyError, err)
	}
}
