// internal/models/filter.go
package models

// Filter narrows the visible game list.
//
// Sport and Tv only restrict the list when exactly one of them is set; both or
// neither mean every mode.
type Filter uint8

const (
	FilterNew Filter = 1 << iota
	FilterSport
	FilterTv
	FilterNoPassword
)

// Has reports whether every bit of f is set.
func (f Filter) Has(flag Filter) bool { return f&flag == flag }

// Matches applies the flag part of the filter to a record. Search text is
// handled by the directory.
func (f Filter) Matches(g *GameRecord) bool {
	if f.Has(FilterNew) && g.HasStarted() {
		return false
	}
	if !f.Has(FilterSport) && f.Has(FilterTv) && g.Mode == ModeSport {
		return false
	}
	if f.Has(FilterSport) && !f.Has(FilterTv) && g.Mode == ModeTv {
		return false
	}
	if f.Has(FilterNoPassword) && g.PasswordRequired {
		return false
	}
	return true
}
