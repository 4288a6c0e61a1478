// internal/directory/view.go
package directory

import (
	"slices"
	"strconv"
	"strings"

	"github.com/jason-s-yu/sionline/internal/models"
)

// rederive reconciles the view with the cache, the filter and the search text.
// It must be called with mu held. The returned changes, applied in order to
// the previous view, produce the new one.
//
// Pass 1 drops entries that left the cache or stopped matching. Pass 2 swaps
// in updated records at the same position, unless the rename would break the
// name order, in which case the entry is dropped and re-inserted by pass 3.
// A plain in-place replace would leave a renamed record at its old position;
// re-inserting keeps the view equal to a fresh sort of the cache.
// Pass 3 inserts matching records that are not yet visible; a record whose
// name equals a visible one is skipped. The cache is scanned in ascending id
// order so name collisions resolve the same way on every run.
func (d *Directory) rederive() (changes []Change, selChanged bool) {
	// pass 1
	for i := 0; i < len(d.view); {
		cur, ok := d.cache[d.view[i].ID]
		if ok && d.matches(cur) {
			i++
			continue
		}
		changes = append(changes, Change{Kind: Removed, Index: i, Game: d.view[i]})
		d.view = slices.Delete(d.view, i, i+1)
	}

	// pass 2
	for i := 0; i < len(d.view); {
		old := d.view[i]
		cur := d.cache[old.ID]
		if cur == old {
			i++
			continue
		}
		if old.Name != cur.Name && !d.fitsAt(i, cur.Name) {
			changes = append(changes, Change{Kind: Removed, Index: i, Game: old})
			d.view = slices.Delete(d.view, i, i+1)
			continue
		}
		d.view[i] = cur
		changes = append(changes, Change{Kind: Replaced, Index: i, Game: cur})
		i++
	}

	// pass 3
	visible := make(map[int]struct{}, len(d.view))
	for _, g := range d.view {
		visible[g.ID] = struct{}{}
	}
	ids := make([]int, 0, len(d.cache))
	for id := range d.cache {
		if _, ok := visible[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		g := d.cache[id]
		if !d.matches(g) {
			continue
		}
		i, found := slices.BinarySearchFunc(d.view, g.Name, func(v *models.GameRecord, name string) int {
			return d.coll.CompareString(v.Name, name)
		})
		if found {
			continue
		}
		d.view = slices.Insert(d.view, i, g)
		changes = append(changes, Change{Kind: Inserted, Index: i, Game: g})
	}

	// selection
	if d.hasSel && d.visibleIndex(d.selectedID) < 0 {
		d.hasSel = false
		selChanged = true
	}
	if !d.hasSel && len(d.view) > 0 {
		d.selectedID, d.hasSel = d.view[0].ID, true
		selChanged = true
	}
	return changes, selChanged
}

// fitsAt reports whether name keeps the view strictly ordered at position i.
func (d *Directory) fitsAt(i int, name string) bool {
	if i > 0 && d.coll.CompareString(d.view[i-1].Name, name) >= 0 {
		return false
	}
	if i+1 < len(d.view) && d.coll.CompareString(name, d.view[i+1].Name) >= 0 {
		return false
	}
	return true
}

func (d *Directory) visibleIndex(id int) int {
	return slices.IndexFunc(d.view, func(g *models.GameRecord) bool { return g.ID == id })
}

func (d *Directory) matches(g *models.GameRecord) bool {
	return d.filter.Matches(g) && d.matchesSearch(g)
}

// matchesSearch applies the search text. Text that starts with a join link
// prefix matches only the game whose id follows the prefix.
func (d *Directory) matchesSearch(g *models.GameRecord) bool {
	if d.folded == "" {
		return true
	}
	for _, prefix := range d.prefixes {
		if prefix == "" || !strings.HasPrefix(d.search, prefix) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(d.search[len(prefix):]))
		return err == nil && id == g.ID
	}
	return strings.Contains(d.fold.String(g.Name), d.folded)
}
