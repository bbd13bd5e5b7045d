// Package feeds implements spec.md §4.9: the feed aggregator that turns
// "=> url date title" link lines (and, for bookmarks with the headings
// flag, "# " headings) found on subscribed bookmarks into a sorted,
// persisted set of feed entries with visit-log-backed read tracking.
//
// Grounded on original_source/src/feeds.c's fetch_Feeds_/parseResult_FeedJob_/
// updateEntries_Feeds_ for the worker loop, per-response parsing, and
// heading/link reconciliation rules; internal/request.Request supplies the
// polymorphic fetch itself, matching submit_FeedJob_'s use of iGmRequest.
package feeds

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/vellum-gemini/vellum/internal/bookmarks"
	"github.com/vellum-gemini/vellum/internal/logging"
	"github.com/vellum-gemini/vellum/internal/request"
	"github.com/vellum-gemini/vellum/internal/urlutil"
	"github.com/vellum-gemini/vellum/internal/visited"
)

const (
	refreshInterval   = 4 * time.Hour
	maxConcurrentJobs = 4
	jobTimeout        = 10 * time.Second
	jobPollInterval   = 500 * time.Millisecond
	maxRedirects      = 5
	maxAge            = 180 * 24 * time.Hour // mirrors visited's default MAX_AGE
	sidebarMax        = 100                  // matches the number of items shown in a feed sidebar
)

var linkLinePattern = regexp.MustCompile(`^=>\s*(\S+)\s+([0-9]{4}-[0-9]{2}-[0-9]{2})(\D.*)$`)

// Entry is one discovered feed item, per spec.md §4.9's Feed entry type.
type Entry struct {
	Posted     time.Time
	Discovered time.Time // zero iff hidden (never completed a discovery pass)
	URL        string    // canonical; carries a "#fragment" for heading entries
	Title      string
	BookmarkID uint32
	IsHeading  bool
}

func (e *Entry) strippedURL() string {
	if i := strings.IndexByte(e.URL, '#'); i >= 0 {
		return e.URL[:i]
	}
	return e.URL
}

// Hidden reports whether the entry has never completed a discovery pass.
func (e *Entry) Hidden() bool { return e.Discovered.IsZero() }

// Aggregator holds the two persistent pieces of feed state (the
// previously-checked feed id set and the sorted entry array) plus the
// in-progress worker, guarded by one mutex.
type Aggregator struct {
	mu        sync.Mutex
	path      string
	bookmarks *bookmarks.Store
	visited   *visited.Store
	logger    *slog.Logger
	verify    request.VerifyFunc
	filter    request.FilterFunc

	previouslyChecked map[uint32]bool
	lastRefreshedAt   time.Time
	entries           []*Entry // sorted by (URL, BookmarkID)
	running           bool
}

// New creates an aggregator backed by the given bookmark and visit-log
// stores. verify, if non-nil, is installed on every feed request's TOFU
// callback the same way a navigation request would use it. filter, if
// non-nil, runs the mime-hook filter chain (spec.md §4.8) against each
// job's response before it is parsed for entries — this is what lets an
// Atom/XML subscription (translated to Gemini link lines by the built-in
// filter) produce entries at all.
func New(path string, bookmarkStore *bookmarks.Store, visitedStore *visited.Store, verify request.VerifyFunc, filter request.FilterFunc, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		path:              path,
		bookmarks:         bookmarkStore,
		visited:           visitedStore,
		verify:            verify,
		filter:            filter,
		logger:            logging.NoopIfNil(logger),
		previouslyChecked: make(map[uint32]bool),
	}
}

// Load parses feeds.txt. A missing file is not an error.
func (a *Aggregator) Load() error {
	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("feeds: read %s: %w", a.path, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 {
		if secs, err := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 64); err == nil && secs > 0 {
			a.lastRefreshedAt = time.Unix(secs, 0).UTC()
		}
	}

	feedIDs := make(map[string]uint32) // 8-hex id, as read -> current bookmark id
	section := 0
	i := 1
loop:
	for i < len(lines) {
		line := strings.TrimRight(lines[i], "\r")
		i++
		switch line {
		case "# Feeds":
			section = 1
			continue
		case "# Entries":
			section = 2
			continue
		case "":
			continue
		}
		switch section {
		case 1:
			parts := strings.SplitN(line, " ", 2)
			if len(parts) != 2 {
				continue
			}
			bm, ok := a.bookmarks.FindURL(parts[1])
			if !ok {
				continue
			}
			feedIDs[strings.ToLower(parts[0])] = bm.ID
			a.previouslyChecked[bm.ID] = true
		case 2:
			if i+4 > len(lines) {
				break loop // truncated record; stop reading, keep what we have
			}
			feedIDHex := strings.ToLower(line)
			postedStr := strings.TrimRight(lines[i], "\r")
			discoveredStr := strings.TrimRight(lines[i+1], "\r")
			urlLine := strings.TrimRight(lines[i+2], "\r")
			titleLine := strings.TrimRight(lines[i+3], "\r")
			i += 4

			bookmarkID, ok := feedIDs[feedIDHex]
			if !ok {
				continue // source feed no longer known; drop the entry
			}
			posted, err1 := strconv.ParseInt(postedStr, 10, 64)
			if err1 != nil || posted == 0 {
				break loop // malformed record; stop reading, per the original's "aborted" path
			}
			discovered, err2 := strconv.ParseInt(discoveredStr, 10, 64)
			if err2 != nil {
				break loop
			}

			entry := &Entry{
				BookmarkID: bookmarkID,
				Posted:     time.Unix(posted, 0).UTC(),
				URL:        urlLine,
				Title:      titleLine,
			}
			if discovered > 0 {
				entry.Discovered = time.Unix(discovered, 0).UTC()
			}
			entry.IsHeading = strings.Contains(entry.URL, "#")
			a.insertEntryLocked(entry)
		}
	}
	return nil
}

// Save atomically persists feeds.txt (temp file + rename).
func (a *Aggregator) Save() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saveLocked()
}

func (a *Aggregator) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o700); err != nil {
		return fmt.Errorf("feeds: mkdir: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d\n# Feeds\n", a.lastRefreshedAt.Unix())
	for _, bm := range a.subscriptions() {
		fmt.Fprintf(&sb, "%08x %s\n", bm.ID, bm.URL)
	}

	sb.WriteString("# Entries\n")
	now := time.Now().UTC()
	for _, e := range a.entries {
		if !e.IsHeading && !e.Discovered.IsZero() && now.Sub(e.Discovered) > maxAge {
			continue // forget entries discovered long ago
		}
		discovered := int64(0)
		if !e.Discovered.IsZero() {
			discovered = e.Discovered.Unix()
		}
		fmt.Fprintf(&sb, "%08x\n%d\n%d\n%s\n%s\n", e.BookmarkID, e.Posted.Unix(), discovered, e.URL, e.Title)
	}

	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("feeds: write temp file: %w", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("feeds: rename: %w", err)
	}
	return nil
}

// subscriptions lists bookmarks with the subscribed flag. Safe to call
// while holding a.mu, since it only touches the (independently locked)
// bookmark store.
func (a *Aggregator) subscriptions() []*bookmarks.Bookmark {
	var out []*bookmarks.Bookmark
	for _, b := range a.bookmarks.All() {
		if b.Tags&bookmarks.TagSubscribed != 0 {
			out = append(out, b)
		}
	}
	return out
}

func entryLess(e *Entry, url string, bookmarkID uint32) bool {
	if e.URL != url {
		return e.URL < url
	}
	return e.BookmarkID < bookmarkID
}

func (a *Aggregator) locateLocked(url string, bookmarkID uint32) (*Entry, int, bool) {
	i := sort.Search(len(a.entries), func(i int) bool {
		return !entryLess(a.entries[i], url, bookmarkID)
	})
	if i < len(a.entries) && a.entries[i].URL == url && a.entries[i].BookmarkID == bookmarkID {
		return a.entries[i], i, true
	}
	return nil, -1, false
}

func (a *Aggregator) insertEntryLocked(e *Entry) {
	i := sort.Search(len(a.entries), func(i int) bool {
		return !entryLess(a.entries[i], e.URL, e.BookmarkID)
	})
	a.entries = append(a.entries, nil)
	copy(a.entries[i+1:], a.entries[i:])
	a.entries[i] = e
}

// isUnread implements spec.md §4.9's read-state query: fragmented URLs are
// unread iff the visit timestamp is older than posted; otherwise unread
// iff the URL is absent from the visit log.
func (a *Aggregator) isUnread(e *Entry) bool {
	if i := strings.IndexByte(e.URL, '#'); i >= 0 {
		rec, ok := a.visited.Lookup(e.URL[:i])
		if !ok {
			return true
		}
		return rec.When.Before(e.Posted)
	}
	return !a.visited.Contains(e.URL)
}

// IsUnreadEntry reports an entry's unread status by (url, source bookmark).
func (a *Aggregator) IsUnreadEntry(feedBookmarkID uint32, entryURL string) bool {
	a.mu.Lock()
	entry, _, found := a.locateLocked(entryURL, feedBookmarkID)
	a.mu.Unlock()
	if !found {
		return false
	}
	return a.isUnread(entry)
}

// MarkEntryAsRead updates the visit log so entryURL's read state under
// feedBookmarkID matches isRead, per markEntryAsRead_Feeds.
func (a *Aggregator) MarkEntryAsRead(feedBookmarkID uint32, entryURL string, isRead bool) {
	bm, ok := a.bookmarks.Get(feedBookmarkID)
	if !ok {
		return
	}

	if bm.Tags&bookmarks.TagHeadings != 0 {
		a.mu.Lock()
		entry, _, found := a.locateLocked(entryURL, feedBookmarkID)
		var postedAt time.Time
		alreadyUnread := false
		if found {
			postedAt = entry.Posted
			alreadyUnread = a.isUnread(entry)
		}
		a.mu.Unlock()
		if !found {
			return
		}
		if isRead && !alreadyUnread {
			return
		}
		when := postedAt
		if !isRead {
			when = when.Add(-time.Second)
		}
		stripped := entryURL
		if i := strings.IndexByte(entryURL, '#'); i >= 0 {
			stripped = entryURL[:i]
		}
		a.visited.VisitURLTime(stripped, visited.FlagTransient|visited.FlagKept, when)
		return
	}

	if !isRead && a.visited.Contains(entryURL) {
		a.visited.RemoveURL(entryURL)
	} else if isRead {
		a.visited.VisitURL(entryURL, visited.FlagTransient|visited.FlagKept)
	}
}

// RemoveEntries drops every entry sourced from feedBookmarkID, e.g. when
// the bookmark is deleted or unsubscribed.
func (a *Aggregator) RemoveEntries(feedBookmarkID uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.entries[:0]
	for _, e := range a.entries {
		if e.BookmarkID != feedBookmarkID {
			kept = append(kept, e)
		}
	}
	a.entries = kept
}

// ListEntries returns every entry, most recently posted first (ties
// broken by discovery time), per listEntries_Feeds/cmpTimeDescending_.
func (a *Aggregator) ListEntries() []*Entry {
	a.mu.Lock()
	out := make([]*Entry, len(a.entries))
	copy(out, a.entries)
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Posted.Equal(out[j].Posted) {
			return out[i].Posted.After(out[j].Posted)
		}
		return out[i].Discovered.After(out[j].Discovered)
	})
	return out
}

// NumSubscribed returns the number of bookmarks with the subscribed flag.
func (a *Aggregator) NumSubscribed() int { return len(a.subscriptions()) }

// NumUnread counts unread entries among the most recent sidebarMax,
// matching numUnread_Feeds's cap.
func (a *Aggregator) NumUnread() int {
	count := 0
	for i, e := range a.ListEntries() {
		if i >= sidebarMax {
			break
		}
		if !e.Hidden() && a.isUnread(e) {
			count++
		}
	}
	return count
}

// feedJob tracks one subscription's in-flight (and possibly redirected)
// fetch, mirroring struct Impl_FeedJob.
type feedJob struct {
	bookmarkID    uint32
	url           string
	checkHeadings bool
	ignoreWeb     bool
	isFirstUpdate bool

	req         *request.Request
	startTime   time.Time
	numRedirect int
	results     []*Entry
	done        bool
}

func (a *Aggregator) buildJobsLocked() []*feedJob {
	var jobs []*feedJob
	for _, bm := range a.subscriptions() {
		job := &feedJob{
			bookmarkID:    bm.ID,
			url:           bm.URL,
			checkHeadings: bm.Tags&bookmarks.TagHeadings != 0,
			ignoreWeb:     bm.Tags&bookmarks.TagIgnoreWeb != 0,
		}
		if !a.previouslyChecked[bm.ID] {
			job.isFirstUpdate = true
			a.previouslyChecked[bm.ID] = true
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// Refresh starts a worker run if one is not already in progress, returning
// whether it did. It never blocks; the caller observes completion only
// through the side effects (Save, visit-log updates) once the background
// goroutine finishes.
func (a *Aggregator) Refresh(ctx context.Context) bool {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return false
	}
	jobs := a.buildJobsLocked()
	if len(jobs) == 0 {
		a.mu.Unlock()
		return false
	}
	a.running = true
	a.mu.Unlock()

	go a.runWorker(ctx, jobs)
	return true
}

// StartScheduler runs the 4-hour repeating refresh loop until ctx is
// canceled. The first wait is what remains of refreshInterval since the
// last refresh (one second if that is already past, the full interval if
// there has been no refresh).
func (a *Aggregator) StartScheduler(ctx context.Context) {
	a.mu.Lock()
	last := a.lastRefreshedAt
	a.mu.Unlock()

	wait := refreshInterval
	if !last.IsZero() {
		if elapsed := time.Since(last); elapsed < refreshInterval {
			wait = refreshInterval - elapsed
		} else {
			wait = time.Second
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			a.Refresh(ctx)
			timer.Reset(refreshInterval)
		}
	}
}

func (a *Aggregator) startJob(ctx context.Context, job *feedJob) {
	req := request.New(a.logger)
	req.SetVerifyFunc(a.verify)
	req.SetFilterFunc(a.filter)
	if err := req.SetURL(job.url); err != nil {
		job.done = true
		return
	}
	job.req = req
	job.startTime = time.Now()
	go func() { _ = req.Submit(ctx) }()
}

// parseResult reports whether job is fully finished (success, permanent
// failure, or redirect budget exhausted). A redirect restarts job.req in
// place and returns false so the worker keeps polling it.
func (a *Aggregator) parseResult(ctx context.Context, job *feedJob) bool {
	if job.req.State() == request.StateFailure {
		return true
	}
	status, meta, _, err := job.req.LockResponse()
	if err != nil {
		return true
	}
	defer job.req.UnlockResponse()

	if status.Class() == 3 {
		job.numRedirect++
		if job.numRedirect >= maxRedirects {
			return true
		}
		base, err := urlutil.Parse(job.url)
		if err != nil {
			return true
		}
		target, err := urlutil.Absoluteize(base, meta)
		if err != nil {
			return true
		}
		job.url = target.String()
		a.startJob(ctx, job)
		return false
	}

	if status.Class() == 2 {
		if body, err := job.req.Body(); err == nil {
			data, readErr := io.ReadAll(body)
			body.Close()
			if readErr == nil {
				job.results = a.parseEntries(job, data)
			}
		}
	}
	return true
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func parseFeedDate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.UTC), true
}

func isTrimmablePunct(r rune) bool {
	switch r {
	case '"', '(', '[', '{', '<':
		return false
	}
	if r == '–' || r == '—' {
		return true
	}
	return r < 128 && unicode.IsPunct(r)
}

func trimTitle(s string) string {
	return strings.TrimLeftFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || isTrimmablePunct(r)
	})
}

// parseEntries extracts link-line and (if job.checkHeadings) heading-line
// entries from body, per spec.md §4.9's parsing rules.
func (a *Aggregator) parseEntries(job *feedJob, body []byte) []*Entry {
	base, err := urlutil.Parse(job.url)
	if err != nil {
		return nil
	}

	now := time.Now().UTC()
	const perEntry = time.Second
	var entries []*Entry

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if m := linkLinePattern.FindStringSubmatch(line); m != nil {
			rawURL, dateStr, titleRaw := m[1], m[2], m[3]
			if !(job.ignoreWeb && hasPrefixFold(rawURL, "http")) {
				if posted, ok := parseFeedDate(dateStr); ok {
					if abs, err := urlutil.Absoluteize(base, rawURL); err == nil {
						if canon, err := abs.Canonical(); err == nil {
							entries = append(entries, &Entry{
								Posted:     posted,
								Discovered: now,
								URL:        canon.String(),
								Title:      trimTitle(titleRaw),
								BookmarkID: job.bookmarkID,
							})
							now = now.Add(-perEntry)
						}
					}
				}
			}
		}

		if job.checkHeadings && strings.HasPrefix(line, "#") {
			title := strings.TrimSpace(strings.TrimLeft(line, "#"))
			fragURL := base.StripFragment().String() + "#" + urlutil.PercentEncode(title, "")
			canonURL, err := urlutil.Canon(fragURL)
			if err != nil {
				canonURL = fragURL
			}
			e := &Entry{
				Posted:     now,
				BookmarkID: job.bookmarkID,
				Title:      title,
				URL:        canonURL,
				IsHeading:  true,
			}
			if !job.isFirstUpdate {
				e.Discovered = now
				now = now.Add(-perEntry)
			}
			entries = append(entries, e)
		}
	}
	return entries
}

// reconcile merges a finished job's results into the aggregator's entry
// set, returning whether anything new or changed was found.
func (a *Aggregator) reconcile(job *feedJob) bool {
	if job.checkHeadings {
		return a.reconcileHeadings(job.bookmarkID, job.results)
	}
	return a.reconcileLinks(job.bookmarkID, job.results)
}

// reconcileHeadings implements the "diff against known URLs" rule: new
// headings are inserted, headings no longer present in the source are
// deleted.
func (a *Aggregator) reconcileHeadings(bookmarkID uint32, incoming []*Entry) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	known := make(map[string]bool)
	for _, e := range a.entries {
		if e.BookmarkID == bookmarkID {
			known[e.URL] = true
		}
	}

	gotNew := false
	present := make(map[string]bool, len(incoming))
	var fresh []*Entry
	for _, e := range incoming {
		present[e.URL] = true
		if !known[e.URL] {
			fresh = append(fresh, e)
			gotNew = true
		}
	}
	for _, e := range fresh {
		a.insertEntryLocked(e)
	}

	kept := a.entries[:0]
	for _, e := range a.entries {
		if e.BookmarkID == bookmarkID && !present[e.URL] {
			continue // no longer present in source
		}
		kept = append(kept, e)
	}
	a.entries = kept
	return gotNew
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// reconcileLinks implements the "kept in visit log, collapse duplicates,
// update title/timestamp, unread on change" rule.
func (a *Aggregator) reconcileLinks(bookmarkID uint32, incoming []*Entry) bool {
	for _, e := range incoming {
		a.visited.SetKept(e.strippedURL(), true)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	gotNew := false
	seen := make(map[string]bool, len(incoming))
	for _, e := range incoming {
		if seen[e.URL] {
			continue // duplicate within this job; each URL handled once
		}
		seen[e.URL] = true

		if existing, _, ok := a.locateLocked(e.URL, bookmarkID); ok {
			changed := existing.Title != e.Title || !sameDate(existing.Posted, e.Posted)
			existing.Title = e.Title
			existing.Posted = e.Posted
			existing.Discovered = e.Discovered // prevent discarding
			if changed {
				a.visited.RemoveURL(existing.URL)
				gotNew = true
			}
		} else {
			a.insertEntryLocked(e)
			gotNew = true
		}
	}
	return gotNew
}

// clearStaleKept drops the kept flag from visit-log records no longer
// backed by any known entry, mirroring fetch_Feeds_'s post-save sweep.
func (a *Aggregator) clearStaleKept() {
	a.mu.Lock()
	known := make(map[string]bool, len(a.entries))
	for _, e := range a.entries {
		known[e.strippedURL()] = true
	}
	a.mu.Unlock()

	for _, rec := range a.visited.ListKept() {
		if !known[rec.URL] {
			a.visited.SetKept(rec.URL, false)
		}
	}
}

func (a *Aggregator) runWorker(ctx context.Context, jobs []*feedJob) {
	total := len(jobs)
	finished := 0
	gotNew := false

	var slots [maxConcurrentJobs]*feedJob
	pending := jobs

	for {
		for i := range slots {
			if slots[i] == nil && len(pending) > 0 {
				slots[i] = pending[0]
				pending = pending[1:]
				a.startJob(ctx, slots[i])
			}
		}

		time.Sleep(jobPollInterval)

		anyInFlight := false
		progressed := false
		for i, job := range slots {
			if job == nil {
				continue
			}
			switch job.req.State() {
			case request.StateFinished, request.StateFailure:
				if a.parseResult(ctx, job) {
					job.done = true
				}
			default:
				if time.Since(job.startTime) >= jobTimeout {
					job.req.Cancel()
					job.done = true
				}
			}
			if !job.done {
				anyInFlight = true
				continue
			}
			if a.reconcile(job) {
				gotNew = true
			}
			finished++
			progressed = true
			slots[i] = nil
		}
		if progressed {
			a.logger.Debug("feeds: update progress", "finished", finished, "total", total)
		}
		if !anyInFlight && len(pending) == 0 {
			break
		}
	}

	a.mu.Lock()
	a.lastRefreshedAt = time.Now().UTC()
	a.running = false
	err := a.saveLocked()
	a.mu.Unlock()
	if err != nil {
		a.logger.Warn("feeds: save failed", "error", err)
	}

	a.clearStaleKept()
	a.logger.Info("feeds: update finished", "new", gotNew, "unread", a.NumUnread())
}
