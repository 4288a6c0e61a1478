// internal/directory/directory.go
//
// Package directory keeps the local mirror of the server's game list and the
// filtered, name-ordered view derived from it.
package directory

import (
	"context"
	"slices"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/models"
	"github.com/jason-s-yu/sionline/internal/observe"
)

// DefaultMaxPages bounds one full resync against a server that never reports
// a last page.
const DefaultMaxPages = 100

// ChangeKind describes one edit of the visible view.
type ChangeKind int

const (
	Inserted ChangeKind = iota
	Removed
	Replaced
)

func (k ChangeKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Removed:
		return "removed"
	default:
		return "replaced"
	}
}

// Change is a minimal edit of the visible view. Index refers to the view as it
// was right before this change was applied.
type Change struct {
	Kind  ChangeKind
	Index int
	Game  *models.GameRecord
}

// PageFetcher returns the snapshot page that starts at fromID.
type PageFetcher func(ctx context.Context, fromID int) (models.GamesPage, error)

// Options configure a Directory.
type Options struct {
	// Language orders game names. Defaults to language.Und.
	Language language.Tag
	// JoinURLPrefixes are the join-by-link forms recognized in search text.
	JoinURLPrefixes []string
	// MaxPages bounds a full resync. Defaults to DefaultMaxPages.
	MaxPages int
	Logger   log.FieldLogger
}

// ResyncResult summarizes a full resync.
type ResyncResult struct {
	Pages     int
	Records   int
	Truncated bool
}

// Directory owns the cache, the visible view and the selection. All three are
// guarded by one mutex; every mutation re-derives the view inside the same
// critical section.
type Directory struct {
	mu         sync.Mutex
	cache      map[int]*models.GameRecord
	view       []*models.GameRecord
	selectedID int
	hasSel     bool
	filter     models.Filter
	search     string
	folded     string
	generation uint64

	coll     *collate.Collator
	fold     cases.Caser
	prefixes []string
	maxPages int
	logger   log.FieldLogger

	changes   observe.Hub[Change]
	selection observe.Hub[*models.GameRecord]
}

// New creates an empty directory.
func New(opts Options) *Directory {
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Directory{
		cache:    make(map[int]*models.GameRecord),
		coll:     collate.New(opts.Language),
		fold:     cases.Fold(),
		prefixes: slices.Clone(opts.JoinURLPrefixes),
		maxPages: opts.MaxPages,
		logger:   opts.Logger.WithField("component", "directory"),
	}
}

// Subscribe registers fn for view changes.
func (d *Directory) Subscribe(fn func(Change)) func() {
	return d.changes.Subscribe(fn)
}

// SubscribeSelection registers fn for selection changes. fn receives nil when
// the selection is cleared.
func (d *Directory) SubscribeSelection(fn func(*models.GameRecord)) func() {
	return d.selection.Subscribe(fn)
}

// ApplyCreate inserts a record. A record with a known id replaces the cached one.
func (d *Directory) ApplyCreate(g models.GameRecord) {
	d.mutate(func() bool {
		d.cache[g.ID] = &g
		return true
	})
}

// ApplyUpdate replaces a known record. Unknown ids are ignored.
func (d *Directory) ApplyUpdate(g models.GameRecord) {
	d.mutate(func() bool {
		if _, ok := d.cache[g.ID]; !ok {
			d.logger.WithField("game_id", g.ID).Debug("update for unknown game ignored")
			return false
		}
		d.cache[g.ID] = &g
		return true
	})
}

// ApplyDelete removes a record. Unknown ids are ignored.
func (d *Directory) ApplyDelete(id int) {
	d.mutate(func() bool {
		if _, ok := d.cache[id]; !ok {
			return false
		}
		delete(d.cache, id)
		return true
	})
}

// SetFilter replaces the filter flags. An unchanged value does nothing.
func (d *Directory) SetFilter(f models.Filter) {
	d.mutate(func() bool {
		if d.filter == f {
			return false
		}
		d.filter = f
		return true
	})
}

// SetSearchText replaces the search text. An unchanged value does nothing.
func (d *Directory) SetSearchText(text string) {
	d.mutate(func() bool {
		if d.search == text {
			return false
		}
		d.search = text
		d.folded = d.fold.String(strings.TrimSpace(text))
		return true
	})
}

// Select makes the visible game with the given id current.
func (d *Directory) Select(id int) bool {
	d.mu.Lock()
	if d.visibleIndex(id) < 0 {
		d.mu.Unlock()
		return false
	}
	if d.hasSel && d.selectedID == id {
		d.mu.Unlock()
		return true
	}
	d.selectedID, d.hasSel = id, true
	g := d.cache[id]
	d.commit(nil, true, g)
	return true
}

// ReplaceAll clears the cache and refills it page by page from fetch,
// re-deriving the view after every page. A newer ReplaceAll or Reset
// supersedes a running one: its remaining pages are discarded and it returns
// errs.ErrSuperseded. Exceeding the page ceiling stops with partial data and
// no error.
func (d *Directory) ReplaceAll(ctx context.Context, fetch PageFetcher) (ResyncResult, error) {
	var res ResyncResult

	d.mu.Lock()
	d.generation++
	gen := d.generation
	d.cache = make(map[int]*models.GameRecord)
	d.rederiveAndCommit()

	logger := d.logger.WithField("generation", gen)
	fromID := 0
	for res.Pages < d.maxPages {
		page, err := fetch(ctx, fromID)
		if err != nil {
			return res, errs.Network("get games page", err)
		}
		if !d.applyPage(gen, page.Games) {
			logger.Debug("resync superseded, page discarded")
			return res, errs.ErrSuperseded
		}
		res.Pages++
		res.Records += len(page.Games)

		if page.IsLastPage {
			logger.WithFields(log.Fields{"pages": res.Pages, "records": res.Records}).Info("directory resync complete")
			return res, nil
		}
		if len(page.Games) == 0 {
			logger.Warn("empty non-final page, stopping resync")
			return res, nil
		}
		fromID = page.Games[len(page.Games)-1].ID + 1
	}

	res.Truncated = true
	logger.WithField("pages", res.Pages).Warn("directory resync hit page limit, keeping partial data")
	return res, nil
}

// Reset empties the directory and supersedes any running resync.
func (d *Directory) Reset() {
	d.mu.Lock()
	d.generation++
	d.cache = make(map[int]*models.GameRecord)
	d.rederiveAndCommit()
}

func (d *Directory) applyPage(gen uint64, games []models.GameRecord) bool {
	d.mu.Lock()
	if d.generation != gen {
		d.mu.Unlock()
		return false
	}
	for i := range games {
		g := games[i]
		d.cache[g.ID] = &g
	}
	d.rederiveAndCommit()
	return true
}

// View returns the visible games in display order. Records are shared and
// must not be modified.
func (d *Directory) View() []*models.GameRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.view)
}

// Selected returns the current game.
func (d *Directory) Selected() (*models.GameRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasSel {
		return nil, false
	}
	return d.cache[d.selectedID], true
}

// Get returns a cached record whether or not it is visible.
func (d *Directory) Get(id int) (*models.GameRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.cache[id]
	return g, ok
}

// Len returns the number of cached records.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

// Filter returns the current filter flags.
func (d *Directory) Filter() models.Filter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filter
}

// SearchText returns the current search text.
func (d *Directory) SearchText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.search
}

// mutate runs fn under the lock and re-derives the view when fn reports a change.
func (d *Directory) mutate(fn func() bool) {
	d.mu.Lock()
	if !fn() {
		d.mu.Unlock()
		return
	}
	d.rederiveAndCommit()
}

// rederiveAndCommit must be called with mu held; it releases mu.
func (d *Directory) rederiveAndCommit() {
	changes, selChanged := d.rederive()
	var sel *models.GameRecord
	if d.hasSel {
		sel = d.cache[d.selectedID]
	}
	d.commit(changes, selChanged, sel)
}

// commit must be called with mu held; it releases mu and then notifies.
func (d *Directory) commit(changes []Change, selChanged bool, sel *models.GameRecord) {
	d.changes.Enqueue(changes...)
	if selChanged {
		d.selection.Enqueue(sel)
	}
	d.mu.Unlock()

	d.changes.Flush()
	d.selection.Flush()
}
