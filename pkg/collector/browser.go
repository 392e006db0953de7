package collector

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"

	"github.com/hindsight-sh/hindsight/pkg/log"
	"github.com/hindsight-sh/hindsight/pkg/types"
)

const (
	maxURLSubject    = 500
	browserBatchSize = 100

	// chromeEpochOffset is the number of seconds between the Windows epoch
	// (1601-01-01) Chrome timestamps count from and the Unix epoch.
	chromeEpochOffset = 11644473600
)

const chromeVisitQuery = `
	SELECT urls.url, urls.title, visits.visit_time
	FROM visits JOIN urls ON visits.url = urls.id
	WHERE visits.visit_time > ?
	ORDER BY visits.visit_time ASC
	LIMIT ?`

const firefoxVisitQuery = `
	SELECT p.url, COALESCE(p.title, ''), v.visit_date
	FROM moz_historyvisits v JOIN moz_places p ON v.place_id = p.id
	WHERE v.visit_date > ?
	ORDER BY v.visit_date ASC
	LIMIT ?`

// chromeTime converts Chrome's microseconds-since-1601 to a time.
func chromeTime(micros int64) time.Time {
	return time.UnixMicro(micros - chromeEpochOffset*1_000_000)
}

// timeToChrome converts a time to Chrome's native timestamp unit.
func timeToChrome(t time.Time) int64 {
	return t.UnixMicro() + chromeEpochOffset*1_000_000
}

// firefoxTime converts Firefox's microseconds-since-1970 to a time.
func firefoxTime(micros int64) time.Time {
	return time.UnixMicro(micros)
}

func timeToFirefox(t time.Time) int64 {
	return t.UnixMicro()
}

// browserSource describes one browser's history database.
type browserSource struct {
	name     string
	path     string
	query    string
	toTime   func(int64) time.Time
	fromTime func(time.Time) int64
	cursor   int64
}

// Browser polls browser history databases for new visits. The live database
// is usually locked by the browser, so each pass works on a temporary copy.
type Browser struct {
	sources  []*browserSource
	interval time.Duration
	sink     Sink
	logger   zerolog.Logger
	dedup    *dedupCache
}

// NewBrowser creates a browser history collector. Empty paths disable the
// corresponding browser.
func NewBrowser(chromePath, firefoxPath string, interval time.Duration) *Browser {
	b := &Browser{
		interval: interval,
		logger:   log.WithCollector("browser"),
		dedup:    newDedupCache(10000),
	}
	if chromePath != "" {
		b.sources = append(b.sources, &browserSource{
			name:     "chrome",
			path:     chromePath,
			query:    chromeVisitQuery,
			toTime:   chromeTime,
			fromTime: timeToChrome,
		})
	}
	if firefoxPath != "" {
		b.sources = append(b.sources, &browserSource{
			name:     "firefox",
			path:     firefoxPath,
			query:    firefoxVisitQuery,
			toTime:   firefoxTime,
			fromTime: timeToFirefox,
		})
	}
	return b
}

func (b *Browser) Name() string { return "browser" }

func (b *Browser) SetSink(sink Sink) { b.sink = sink }

// Start seeds each source's cursor to now so pre-existing history is not
// replayed.
func (b *Browser) Start(ctx context.Context) error {
	now := time.Now()
	for _, src := range b.sources {
		src.cursor = src.fromTime(now)
	}
	b.logger.Info().Int("sources", len(b.sources)).Msg("Browser collector started")
	return nil
}

func (b *Browser) Run(ctx context.Context) {
	pollLoop(ctx, b.Name(), b.interval, b.poll)
}

func (b *Browser) Stop() error { return nil }

func (b *Browser) poll(ctx context.Context) error {
	var firstErr error
	for _, src := range b.sources {
		if err := b.pollSource(ctx, src); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Browser) pollSource(ctx context.Context, src *browserSource) error {
	if _, err := os.Stat(src.path); err != nil {
		return nil
	}

	snapshot, err := copyToTemp(src.path)
	if err != nil {
		return fmt.Errorf("failed to snapshot %s history: %w", src.name, err)
	}
	defer os.Remove(snapshot)

	db, err := sql.Open("sqlite", "file:"+snapshot+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("failed to open %s history: %w", src.name, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, src.query, src.cursor, browserBatchSize)
	if err != nil {
		return fmt.Errorf("failed to query %s history: %w", src.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var visitURL, title string
		var visitTime int64
		if err := rows.Scan(&visitURL, &title, &visitTime); err != nil {
			return fmt.Errorf("failed to scan %s visit: %w", src.name, err)
		}
		if visitTime > src.cursor {
			src.cursor = visitTime
		}
		b.emit(src, visitURL, title, visitTime)
	}
	return rows.Err()
}

func (b *Browser) emit(src *browserSource, visitURL, title string, visitTime int64) {
	if visitURL == "" || ignoredURL(visitURL) {
		return
	}
	if b.dedup.Seen(fmt.Sprintf("%s:%d", src.name, visitTime)) {
		return
	}

	subject := visitURL
	if len(subject) > maxURLSubject {
		subject = subject[:maxURLSubject]
	}
	e := types.NewEvent(types.BrowserVisit, "browser", subject)
	e.Timestamp = src.toTime(visitTime)
	e.URL = subject
	e.Title = title
	e.Browser = src.name
	// Host keeps any port, matching the url's netloc.
	if parsed, err := url.Parse(visitURL); err == nil && parsed.Host != "" {
		e.Metadata = types.Metadata{"domain": parsed.Host}
	}
	b.sink(e)
}

// copyToTemp copies a database file into the temp directory and returns the
// copy's path.
func copyToTemp(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp("", "hindsight-history-*"+filepath.Ext(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}
