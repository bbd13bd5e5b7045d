// Package bookmarks implements spec.md §4.5: the bookmark store, its
// folder hierarchy, tag flags, TOML-subset persistence, import/merge, and
// remote (subscribed-folder) bookmarks.
//
// Grounded on internal/store/json/json.go's atomic-write discipline and
// internal/config/config.go's BurntSushi/toml usage, generalized to the
// "[<id>]"-sectioned bookmarks.ini format spec.md §6 requires.
package bookmarks

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Tag bits, packed into the persisted "tags" field. Canonical on-disk
// form uses dotted names (".subscribed"); the legacy bare-word forms are
// still accepted on load.
const (
	TagSubscribed = 1 << iota // remote folder: children are fetched, not stored
	TagHomepage
	TagRemoteSource // this bookmark is itself a remote-source URL
	TagLinkSplit    // a synthetic bookmark created by link-splitting a page
	TagHeadings     // feed aggregator also treats "# " lines as entries
	TagIgnoreWeb    // feed aggregator skips http(s) links found in this feed
)

var tagNames = map[int]string{
	TagSubscribed:   "subscribed",
	TagHomepage:     "homepage",
	TagRemoteSource: "remotesource",
	TagLinkSplit:    "linksplit",
	TagHeadings:     "headings",
	TagIgnoreWeb:    "ignoreweb",
}

var legacyTagNames = map[string]int{
	"subscribed":   TagSubscribed,
	"homepage":     TagHomepage,
	"remotesource": TagRemoteSource,
	"linksplit":    TagLinkSplit,
	"headings":     TagHeadings,
	"ignoreweb":    TagIgnoreWeb,
}

// Bookmark is one entry in the store.
type Bookmark struct {
	ID       uint32
	ParentID uint32 // 0 == root
	URL      string
	Title    string
	Tags     int
	Order    int32 // signed, shifted on reorder; siblings sorted ascending
	Icon     rune

	// Remote-source fields (TagRemoteSource only); never persisted for the
	// children a remote folder produces, only for the folder's source URL.
	RemoteSource string
}

// IsFolder reports whether b can contain children, i.e. it is a
// subscribed/remote folder or was created purely as a grouping node
// (URL == "").
func (b *Bookmark) IsFolder() bool {
	return b.URL == "" || b.Tags&TagSubscribed != 0
}

func (b *Bookmark) tagString() string {
	var names []string
	for bit, name := range tagNames {
		if b.Tags&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "." + n
	}
	return strings.Join(out, " ")
}

func parseTags(s string) int {
	tags := 0
	for _, tok := range strings.Fields(s) {
		tok = strings.TrimPrefix(tok, ".")
		if bit, ok := legacyTagNames[strings.ToLower(tok)]; ok {
			tags |= bit
		}
	}
	return tags
}

// Store is a mutex-guarded bookmark collection keyed by id.
type Store struct {
	mu           sync.Mutex
	path         string
	byID         map[uint32]*Bookmark
	nextID       uint32
	recentFolder uint32
	remote       map[uint32][]*Bookmark // folder id -> fetched children, never persisted
}

// New creates an empty store; call Load to populate it from disk.
func New(path string) *Store {
	return &Store{
		path:   path,
		byID:   make(map[uint32]*Bookmark),
		nextID: 1,
		remote: make(map[uint32][]*Bookmark),
	}
}

// Load parses the "[<id>]" sectioned bookmarks.ini file. A missing file is
// not an error.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bookmarks: read %s: %w", s.path, err)
	}

	// BurntSushi/toml can't unmarshal numeric-keyed sections into a typed
	// map directly; decode into a generic tree instead.
	var raw map[string]any
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return fmt.Errorf("bookmarks: decode: %w", err)
	}
	var recentFolder uint32
	if v, ok := raw["recentfolder"]; ok {
		if f, ok := toInt64(v); ok {
			recentFolder = uint32(f)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	maxID := uint32(0)
	for key, val := range raw {
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			continue // "recentfolder" or unknown top-level key
		}
		section, ok := val.(map[string]any)
		if !ok {
			continue
		}
		b := &Bookmark{ID: uint32(id)}
		if v, ok := section["url"].(string); ok {
			b.URL = v
		}
		if v, ok := section["title"].(string); ok {
			b.Title = v
		}
		if v, ok := section["tags"].(string); ok {
			b.Tags = parseTags(v)
		}
		if v, ok := toInt64(section["parent"]); ok {
			b.ParentID = uint32(v)
		}
		if v, ok := toInt64(section["order"]); ok {
			b.Order = int32(v)
		}
		if v, ok := toInt64(section["icon"]); ok {
			b.Icon = rune(v)
		}
		if v, ok := section["remotesource"].(string); ok {
			b.RemoteSource = v
		}
		s.byID[b.ID] = b
		if b.ID > maxID {
			maxID = b.ID
		}
	}
	s.nextID = maxID + 1
	s.recentFolder = recentFolder
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

// Save atomically persists the store in the "[<id>]" sectioned format
// (temp file + rename, spec.md §5). Remote (fetched) children are never
// written out.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "recentfolder = %d\n\n", s.recentFolder)

	ids := make([]uint32, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		b := s.byID[id]
		fmt.Fprintf(&sb, "[%d]\n", b.ID)
		fmt.Fprintf(&sb, "url = %q\n", b.URL)
		fmt.Fprintf(&sb, "title = %q\n", b.Title)
		if tags := b.tagString(); tags != "" {
			fmt.Fprintf(&sb, "tags = %q\n", tags)
		}
		fmt.Fprintf(&sb, "parent = %d\n", b.ParentID)
		fmt.Fprintf(&sb, "order = %d\n", b.Order)
		if b.Icon != 0 {
			fmt.Fprintf(&sb, "icon = %d\n", b.Icon)
		}
		if b.RemoteSource != "" {
			fmt.Fprintf(&sb, "remotesource = %q\n", b.RemoteSource)
		}
		sb.WriteString("\n")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("bookmarks: mkdir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("bookmarks: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("bookmarks: rename: %w", err)
	}
	return nil
}

// Add inserts a new bookmark under parentID, assigning it the next id and
// placing it last among its siblings unless prepend requests otherwise.
func (s *Store) Add(url, title string, parentID uint32, tags int, prepend bool) *Bookmark {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &Bookmark{
		ID:       s.nextID,
		ParentID: parentID,
		URL:      url,
		Title:    title,
		Tags:     tags,
	}
	s.nextID++

	siblings := s.childrenLocked(parentID)
	if prepend {
		b.Order = minOrder(siblings) - 1
	} else {
		b.Order = maxOrder(siblings) + 1
	}
	s.byID[b.ID] = b
	s.recentFolder = parentID
	return b
}

func minOrder(bs []*Bookmark) int32 {
	if len(bs) == 0 {
		return 0
	}
	m := bs[0].Order
	for _, b := range bs[1:] {
		if b.Order < m {
			m = b.Order
		}
	}
	return m
}

func maxOrder(bs []*Bookmark) int32 {
	if len(bs) == 0 {
		return 0
	}
	m := bs[0].Order
	for _, b := range bs[1:] {
		if b.Order > m {
			m = b.Order
		}
	}
	return m
}

// Get returns the bookmark with the given id.
func (s *Store) Get(id uint32) (*Bookmark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	return b, ok
}

// Delete removes a bookmark and, recursively, all of its descendants.
func (s *Store) Delete(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
}

func (s *Store) deleteLocked(id uint32) {
	for _, child := range s.childrenLocked(id) {
		s.deleteLocked(child.ID)
	}
	delete(s.byID, id)
	delete(s.remote, id)
}

// Children returns the direct children of parentID, sorted by Order.
func (s *Store) Children(parentID uint32) []*Bookmark {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.childrenLocked(parentID)
	if remote, ok := s.remote[parentID]; ok {
		out = append(out, remote...)
	}
	return out
}

func (s *Store) childrenLocked(parentID uint32) []*Bookmark {
	var out []*Bookmark
	for _, b := range s.byID {
		if b.ParentID == parentID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Sort renumbers parentID's children densely as 1..N in their current
// relative order.
func (s *Store) Sort(parentID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	children := s.childrenLocked(parentID)
	for i, b := range children {
		b.Order = int32(i + 1)
	}
}

// FindURL does a linear scan for a bookmark with an exact URL match.
func (s *Store) FindURL(url string) (*Bookmark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.byID {
		if b.URL == url {
			return b, true
		}
	}
	return nil, false
}

// SiteIcon returns the icon of the bookmark whose URL is the longest
// prefix of url, per spec.md §4.5 site_icon.
func (s *Store) SiteIcon(url string) (rune, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Bookmark
	bestLen := -1
	for _, b := range s.byID {
		if b.URL == "" || b.Icon == 0 {
			continue
		}
		if strings.HasPrefix(url, b.URL) && len(b.URL) > bestLen {
			best = b
			bestLen = len(b.URL)
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Icon, true
}

// SetRemoteChildren replaces the transient (never-persisted) child set
// fetched for a subscribed remote folder.
func (s *Store) SetRemoteChildren(folderID uint32, children []*Bookmark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote[folderID] = children
}

// RecentFolder returns the folder id most recently used by Add.
func (s *Store) RecentFolder() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentFolder
}

// Count returns the number of persisted (non-remote) bookmarks.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Path returns the file this store persists to.
func (s *Store) Path() string {
	return s.path
}

// All returns a snapshot of every persisted bookmark, in id order.
func (s *Store) All() []*Bookmark {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Bookmark, 0, len(s.byID))
	for _, b := range s.byID {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ImportMethod selects merge semantics for Import, per spec.md §4.5.
type ImportMethod int

const (
	// ReplaceAll discards the existing store and adopts the imported set.
	ReplaceAll ImportMethod = iota
	// AddMissingOnly adds imported bookmarks whose URL is not already
	// present anywhere in the store.
	AddMissingOnly
	// AddAllIntoDuplicateFolder adds every imported bookmark under a new
	// top-level folder, even if some URLs duplicate existing entries.
	AddAllIntoDuplicateFolder
)

// Import merges other's bookmarks into s according to method.
func (s *Store) Import(other *Store, method ImportMethod, duplicateFolderName string) {
	switch method {
	case ReplaceAll:
		s.mu.Lock()
		s.byID = make(map[uint32]*Bookmark)
		s.mu.Unlock()
		s.importWithOffset(other, 0)
	case AddMissingOnly:
		existing := make(map[string]bool)
		existingFolders := make(map[string]uint32) // root-level folder title -> existing id
		for _, b := range s.All() {
			if b.URL == "" && b.ParentID == 0 {
				existingFolders[b.Title] = b.ID
			} else if b.URL != "" {
				existing[b.URL] = true
			}
		}

		// Root-level incoming folders whose title matches an existing root
		// folder are merged rather than duplicated: the incoming folder
		// record is dropped and its direct children are reparented onto
		// the existing folder's id, per spec.md §4.5.
		mergedFolder := make(map[uint32]uint32) // incoming folder id -> existing folder id
		for _, b := range other.All() {
			if b.URL == "" && b.ParentID == 0 {
				if existingID, ok := existingFolders[b.Title]; ok {
					mergedFolder[b.ID] = existingID
				}
			}
		}

		s.mu.Lock()
		offset := s.nextID
		s.mu.Unlock()
		for _, b := range other.All() {
			if b.URL == "" && b.ParentID == 0 {
				if _, merged := mergedFolder[b.ID]; merged {
					continue // duplicate root folder: reparent its children instead
				}
			}
			if b.URL != "" && existing[b.URL] {
				continue
			}
			if target, ok := mergedFolder[b.ParentID]; ok {
				s.insertReparented(b, offset, target)
				continue
			}
			s.insertOffset(b, offset, 0)
		}
	case AddAllIntoDuplicateFolder:
		root := s.Add("", duplicateFolderName, 0, 0, false)
		s.mu.Lock()
		offset := s.nextID
		s.mu.Unlock()
		for _, b := range other.All() {
			s.insertOffset(b, offset, root.ID)
		}
	}
}

func (s *Store) importWithOffset(other *Store, rootRemap uint32) {
	s.mu.Lock()
	offset := s.nextID
	s.mu.Unlock()
	for _, b := range other.All() {
		s.insertOffset(b, offset, rootRemap)
	}
}

// insertOffset copies a bookmark from another store, shifting its id and
// its parent id by offset so the two id spaces cannot collide. A
// ParentID of 0 is remapped to newRoot when importing into the newly
// created duplicate folder (AddAllIntoDuplicateFolder); otherwise 0 stays 0.
func (s *Store) insertOffset(b *Bookmark, offset uint32, newRoot uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copyB := *b
	copyB.ID = b.ID + offset
	if b.ParentID == 0 {
		if newRoot != 0 {
			copyB.ParentID = newRoot
		}
	} else {
		copyB.ParentID = b.ParentID + offset
	}
	s.byID[copyB.ID] = &copyB
	if copyB.ID >= s.nextID {
		s.nextID = copyB.ID + 1
	}
}

// insertReparented copies a bookmark from another store, shifting its id
// by offset like insertOffset, but unconditionally rewriting its parent
// to parent regardless of the incoming record's own ParentID — used when
// a same-named incoming root folder was merged into an existing one
// (spec.md §4.5) and its direct children need to land under the
// existing folder's id instead of a newly offset copy of the duplicate.
func (s *Store) insertReparented(b *Bookmark, offset uint32, parent uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copyB := *b
	copyB.ID = b.ID + offset
	copyB.ParentID = parent
	s.byID[copyB.ID] = &copyB
	if copyB.ID >= s.nextID {
		s.nextID = copyB.ID + 1
	}
}

// LoadLegacyText best-effort reads the older one-line-per-bookmark
// "bookmarks.txt" format ("url title" pairs) into a fresh top-level
// folder. There is no corresponding writer: new installs always use the
// TOML-subset format.
func LoadLegacyText(path string, into *Store, folderTitle string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("bookmarks: open legacy file: %w", err)
	}
	defer f.Close()

	folder := into.Add("", folderTitle, 0, 0, false)
	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		url := parts[0]
		title := url
		if len(parts) == 2 {
			title = parts[1]
		}
		into.Add(url, title, folder.ID, 0, false)
		count++
	}
	return count, scanner.Err()
}
