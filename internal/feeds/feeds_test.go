package feeds

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vellum-gemini/vellum/internal/bookmarks"
	"github.com/vellum-gemini/vellum/internal/visited"
)

func newTestAggregator(t *testing.T) (*Aggregator, *bookmarks.Store, *visited.Store) {
	t.Helper()
	dir := t.TempDir()
	bs := bookmarks.New(filepath.Join(dir, "bookmarks.ini"))
	vs := visited.New(filepath.Join(dir, "visited.txt"), 0, nil)
	a := New(filepath.Join(dir, "feeds.txt"), bs, vs, nil, nil, nil)
	return a, bs, vs
}

func TestParseEntriesLinksAndHeadings(t *testing.T) {
	a, _, _ := newTestAggregator(t)
	job := &feedJob{
		bookmarkID:    7,
		url:           "gemini://example.test/feed.gmi",
		checkHeadings: true,
		isFirstUpdate: true,
	}
	body := []byte(
		"# My Feed\n" +
			"=> /posts/1.gmi 2024-01-02 - First post\n" +
			"Some unrelated text\n" +
			"=> gemini://other.test/x 2024-03-04 Another one\n" +
			"## A subheading\n",
	)

	entries := a.parseEntries(job, body)

	var links []*Entry
	var headings int
	for _, e := range entries {
		if e.IsHeading {
			headings++
			continue
		}
		links = append(links, e)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 link entries, got %d", len(links))
	}
	if headings != 2 {
		t.Fatalf("expected 2 heading entries, got %d", headings)
	}

	first := links[0]
	if first.URL != "gemini://example.test/posts/1.gmi" {
		t.Errorf("expected absoluteized URL, got %q", first.URL)
	}
	if first.Title != "First post" {
		t.Errorf("expected trimmed title %q, got %q", "First post", first.Title)
	}
	if first.Posted.Year() != 2024 || first.Posted.Month() != time.January || first.Posted.Day() != 2 {
		t.Errorf("unexpected posted date: %v", first.Posted)
	}
	if first.Posted.Hour() != 12 {
		t.Errorf("expected noon UTC, got hour %d", first.Posted.Hour())
	}

	// First update: heading entries must not be marked as newly discovered.
	for _, e := range entries {
		if e.IsHeading && !e.Discovered.IsZero() {
			t.Errorf("expected heading entry to have zero Discovered on first update, got %v", e.Discovered)
		}
	}
}

func TestParseEntriesIgnoresHeadingsWhenFlagUnset(t *testing.T) {
	a, _, _ := newTestAggregator(t)
	job := &feedJob{bookmarkID: 1, url: "gemini://example.test/feed.gmi", checkHeadings: false}
	entries := a.parseEntries(job, []byte("# A heading\n=> /x 2024-01-01 Title\n"))
	if len(entries) != 1 {
		t.Fatalf("expected only the link entry, got %d entries", len(entries))
	}
}

func TestTrimTitle(t *testing.T) {
	cases := []struct{ in, want string }{
		{" - Hello", "Hello"},
		{"-- Hello", "Hello"},
		{`"Quoted"`, `"Quoted"`},
		{"(Parenthesized)", "(Parenthesized)"},
		{"...Ellipsis", "Ellipsis"},
	}
	for _, c := range cases {
		if got := trimTitle(c.in); got != c.want {
			t.Errorf("trimTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestReconcileHeadingsInsertsAndDeletes(t *testing.T) {
	a, _, _ := newTestAggregator(t)
	a.entries = []*Entry{
		{URL: "gemini://example.test/feed#Old", BookmarkID: 1, IsHeading: true, Title: "Old"},
		{URL: "gemini://example.test/feed#Kept", BookmarkID: 1, IsHeading: true, Title: "Kept"},
	}

	incoming := []*Entry{
		{URL: "gemini://example.test/feed#Kept", BookmarkID: 1, IsHeading: true, Title: "Kept"},
		{URL: "gemini://example.test/feed#New", BookmarkID: 1, IsHeading: true, Title: "New"},
	}
	gotNew := a.reconcileHeadings(1, incoming)
	if !gotNew {
		t.Fatal("expected gotNew to be true when a new heading appears")
	}

	urls := make(map[string]bool)
	for _, e := range a.entries {
		urls[e.URL] = true
	}
	if urls["gemini://example.test/feed#Old"] {
		t.Error("expected the stale heading to be removed")
	}
	if !urls["gemini://example.test/feed#Kept"] {
		t.Error("expected the still-present heading to remain")
	}
	if !urls["gemini://example.test/feed#New"] {
		t.Error("expected the new heading to be inserted")
	}
}

func TestReconcileLinksUpdatesTitleAndClearsVisit(t *testing.T) {
	a, _, vs := newTestAggregator(t)
	existing := &Entry{
		URL:        "gemini://example.test/post",
		BookmarkID: 3,
		Title:      "Old Title",
		Posted:     time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	a.entries = []*Entry{existing}
	vs.VisitURL(existing.URL, visited.FlagKept)

	incoming := []*Entry{
		{URL: existing.URL, BookmarkID: 3, Title: "New Title", Posted: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)},
	}
	gotNew := a.reconcileLinks(3, incoming)
	if !gotNew {
		t.Fatal("expected gotNew to be true when title/date changes")
	}
	if existing.Title != "New Title" {
		t.Errorf("expected title to be updated, got %q", existing.Title)
	}
	if vs.Contains(existing.URL) {
		t.Error("expected the changed entry's visit record to be cleared so it re-shows as unread")
	}
}

func TestReconcileLinksCollapsesDuplicates(t *testing.T) {
	a, _, _ := newTestAggregator(t)
	incoming := []*Entry{
		{URL: "gemini://example.test/a", BookmarkID: 1, Title: "First"},
		{URL: "gemini://example.test/a", BookmarkID: 1, Title: "Duplicate"},
	}
	a.reconcileLinks(1, incoming)
	if len(a.entries) != 1 {
		t.Fatalf("expected duplicates collapsed to 1 entry, got %d", len(a.entries))
	}
	if a.entries[0].Title != "First" {
		t.Errorf("expected the first occurrence to win, got %q", a.entries[0].Title)
	}
}

func TestIsUnreadFragmentVsPlain(t *testing.T) {
	a, _, vs := newTestAggregator(t)
	posted := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	heading := &Entry{URL: "gemini://example.test/feed#Topic", BookmarkID: 1, Posted: posted, IsHeading: true}
	link := &Entry{URL: "gemini://example.test/post", BookmarkID: 1, Posted: posted}

	if !a.isUnread(heading) {
		t.Error("expected an unvisited heading entry to be unread")
	}
	if !a.isUnread(link) {
		t.Error("expected an unvisited link entry to be unread")
	}

	vs.VisitURLTime("gemini://example.test/feed", 0, posted.Add(time.Hour))
	if a.isUnread(heading) {
		t.Error("expected the heading entry to be read once visited after posted")
	}

	vs.VisitURL(link.URL, 0)
	if a.isUnread(link) {
		t.Error("expected the link entry to be read once visited at all")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	a, bs, _ := newTestAggregator(t)
	bm := bs.Add("gemini://example.test/feed.gmi", "Feed", 0, bookmarks.TagSubscribed, false)

	a.entries = []*Entry{
		{
			URL:        "gemini://example.test/post1",
			BookmarkID: bm.ID,
			Title:      "Post One",
			Posted:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Discovered: time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC),
		},
	}
	a.lastRefreshedAt = time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)

	if err := a.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Reload against the same bookmarks store so FindURL resolves the feed
	// id back to bm.ID, the way a restarted process would.
	a2 := New(a.path, bs, nil, nil, nil, nil)
	if err := a2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(a2.entries) != 1 {
		t.Fatalf("expected 1 entry after round trip, got %d", len(a2.entries))
	}
	got := a2.entries[0]
	if got.URL != "gemini://example.test/post1" || got.Title != "Post One" || got.BookmarkID != bm.ID {
		t.Errorf("unexpected round-tripped entry: %+v", got)
	}
	if !a2.lastRefreshedAt.Equal(a.lastRefreshedAt) {
		t.Errorf("expected lastRefreshedAt to round-trip, got %v want %v", a2.lastRefreshedAt, a.lastRefreshedAt)
	}
}
