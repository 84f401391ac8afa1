package catalog

import "fmt"

// ItemDescription is the immutable description of one data item: its
// identity (FRN-independent, e.g. "I048/010") and the Strategy that parses
// its occurrences.
type ItemDescription struct {
	Name     string // e.g. "I048/010"
	Title    string // e.g. "Data Source Identifier"
	Strategy Strategy
}

// UAPEntry binds one FRN (field reference number) to an item, or marks the
// FRN as spare (no item defined at that position).
type UAPEntry struct {
	FRN  int
	Item *ItemDescription // nil if this FRN is spare in this UAP
}

// UAP is an ordered list of FRN->item bindings plus the predicate that
// decides whether this UAP applies to a given record (spec.md §4.F; see
// also SUPPLEMENTED FEATURES for the first-match-wins multi-UAP scan this
// supports).
type UAP struct {
	Name    string
	Entries []UAPEntry

	// Matches, when non-nil, restricts this UAP to records whose raw bytes
	// satisfy a vendor/version discriminator — e.g. "byte 7, bit 3 must be
	// 1". A Category with a single UAP leaves this nil.
	Matches func(record []byte) bool
}

// matchesRecord reports whether u applies to record, treating a nil Matches
// as "always matches".
func (u UAP) matchesRecord(record []byte) bool {
	if u.Matches == nil {
		return true
	}
	return u.Matches(record)
}

// EntryForFRN returns the UAPEntry declared for frn, if any. A UAP need not
// declare every FRN up to its highest one; an FSPEC bit set for an FRN with
// no declared entry is the "unknown FRN" condition the record decoder
// reports as a warning.
func (u UAP) EntryForFRN(frn int) (UAPEntry, bool) {
	for _, e := range u.Entries {
		if e.FRN == frn {
			return e, true
		}
	}
	return UAPEntry{}, false
}

// Category is one ASTERIX category's complete metadata: its numeric id and
// the UAP(s) that describe its records. Most categories carry exactly one
// UAP; a few (notably CAT 001, CAT 048 historically) carry several keyed by
// a version discriminator.
type Category struct {
	ID   int
	UAPs []UAP
}

// Resolve picks the first UAP (in declaration order) whose Matches
// predicate accepts record, per the first-match-wins rule documented in
// DESIGN.md. Returns false if none match.
func (c Category) Resolve(record []byte) (UAP, bool) {
	for _, u := range c.UAPs {
		if u.matchesRecord(record) {
			return u, true
		}
	}
	return UAP{}, false
}

// Catalogue is the immutable, sparse map from category id to Category. It
// is built once (typically from an ASTERIX XML definition set by
// [github.com/flightwatch/asterix/internal/catalogxml]) and never mutated
// after construction; concurrent Lookup calls are safe.
//
// Category 256 is reserved, by convention rather than by the ASTERIX
// standard, for the pseudo-category of Mode-S Comm-B BDS registers: its
// ItemDescriptions are addressed by BDS register number rather than FRN,
// and a BDS Strategy dispatches into it directly.
type Catalogue struct {
	categories map[int]Category
}

// BDSPseudoCategory is the conventional id under which BDS register
// descriptions are stored in a Catalogue, so a BDS Strategy can look itself
// up without a separate side channel.
const BDSPseudoCategory = 256

// NewCatalogue builds a Catalogue from a set of categories. Duplicate ids
// are an error: the loader should not produce them.
func NewCatalogue(categories []Category) (*Catalogue, error) {
	m := make(map[int]Category, len(categories))
	for _, c := range categories {
		if _, dup := m[c.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate category %d", c.ID)
		}
		m[c.ID] = c
	}
	return &Catalogue{categories: m}, nil
}

// Lookup returns the Category registered for id, or false if none is.
func (c *Catalogue) Lookup(id int) (Category, bool) {
	cat, ok := c.categories[id]
	return cat, ok
}

// Categories returns the ids present in the catalogue, in no particular
// order.
func (c *Catalogue) Categories() []int {
	ids := make([]int, 0, len(c.categories))
	for id := range c.categories {
		ids = append(ids, id)
	}
	return ids
}

// bdsStrategy adapts a Catalogue's pseudo-category-256 entries into the
// Registers map a BDS Strategy needs, so a category's Fixed/Variable/etc.
// layouts can reference BDS registers without the catalog loader having to
// pre-flatten them.
func (c *Catalogue) bdsStrategy() BDS {
	regs := make(map[byte]Fixed)
	cat, ok := c.Lookup(BDSPseudoCategory)
	if !ok {
		return BDS{Registers: regs}
	}
	for _, uap := range cat.UAPs {
		for _, e := range uap.Entries {
			if e.Item == nil {
				continue
			}
			if fx, ok := e.Item.Strategy.(Fixed); ok {
				regs[byte(e.FRN)] = fx
			}
		}
	}
	return BDS{Registers: regs}
}

// NewBDSStrategy builds a BDS Strategy whose register table is drawn from
// c's pseudo-category-256 entries, keyed by FRN-as-register-number. Callers
// building a category's item tree (typically internal/catalogxml) use this
// instead of constructing a BDS literal by hand so the two categories never
// drift out of sync.
func NewBDSStrategy(c *Catalogue) BDS {
	return c.bdsStrategy()
}

// FSPECMaxBytes is the hard cap on FSPEC length enforced by the record
// decoder (spec.md §7, Open Question: 8-byte cap). It is declared here,
// next to UAP, because FRN numbering and the cap are two views of the same
// invariant: no UAP may require more than FSPECMaxBytes*7 FRNs to reach its
// highest entry.
const FSPECMaxBytes = 8
