// Package catalogxml loads an ASTERIX category/UAP definition set from XML
// into a [github.com/flightwatch/asterix/catalog.Catalogue]. This is
// explicitly an external collaborator to the core decoder (the decoder
// never reads XML itself); the standard library's encoding/xml is used
// because no XML library appears anywhere in the example corpus this
// repository was built from — there is nothing to wire instead.
package catalogxml

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/flightwatch/asterix/catalog"
)

// xmlCategory is the root element of one category definition file:
//
//	<Category id="48" name="Monoradar Target Reports">
//	  <DataItem id="010" name="Data Source Identifier">
//	    <Fixed length="2">
//	      <Bits from="15" to="8" name="SAC" encoding="unsigned"/>
//	      <Bits from="7" to="0" name="SIC" encoding="unsigned"/>
//	    </Fixed>
//	  </DataItem>
//	  <UAP name="default">
//	    <UAPItem frn="1" bit="7" item="010"/>
//	  </UAP>
//	</Category>
type xmlCategory struct {
	XMLName  xml.Name      `xml:"Category"`
	ID       int           `xml:"id,attr"`
	Name     string        `xml:"name,attr"`
	Items    []xmlDataItem `xml:"DataItem"`
	UAPs     []xmlUAP      `xml:"UAP"`
}

type xmlDataItem struct {
	ID         string         `xml:"id,attr"`
	Name       string         `xml:"name,attr"`
	Fixed      *xmlFixed      `xml:"Fixed"`
	Variable   *xmlVariable   `xml:"Variable"`
	Repetitive *xmlRepetitive `xml:"Repetitive"`
	Compound   *xmlCompound   `xml:"Compound"`
	Explicit   *xmlExplicit   `xml:"Explicit"`
	BDS        *xmlBDSRef     `xml:"BDS"`
}

type xmlBits struct {
	From     int     `xml:"from,attr"`
	To       int     `xml:"to,attr"`
	Name     string  `xml:"name,attr"`
	LongName string  `xml:"long_name,attr"`
	Encoding string  `xml:"encoding,attr"`
	Unit     string  `xml:"unit,attr"`
	ScaleNum float64 `xml:"scale_num,attr"`
	ScaleDen float64 `xml:"scale_den,attr"`
}

type xmlFixed struct {
	Length int       `xml:"length,attr"`
	Bits   []xmlBits `xml:"Bits"`
}

type xmlFixedPart struct {
	Length    int       `xml:"length,attr"`
	FXBitFrom int       `xml:"fx_bit,attr"`
	Bits      []xmlBits `xml:"Bits"`
}

type xmlVariable struct {
	Parts []xmlFixedPart `xml:"Part"`
}

type xmlRepetitive struct {
	RepLen  int      `xml:"rep_len,attr"`
	Element xmlFixed `xml:"Fixed"`
}

type xmlCompoundSubitem struct {
	Fixed      *xmlFixed      `xml:"Fixed"`
	Variable   *xmlVariable   `xml:"Variable"`
	Repetitive *xmlRepetitive `xml:"Repetitive"`
	Explicit   *xmlExplicit   `xml:"Explicit"`
}

type xmlCompound struct {
	Presence xmlVariable           `xml:"Presence"`
	Subitems []xmlCompoundSubitem  `xml:"Subitem"`
}

type xmlExplicit struct {
	Fixed *xmlFixed `xml:"Fixed"`
}

// xmlBDSRef marks a DataItem as the BDS dispatcher; its register table is
// built from the pseudo-category-256 Category elsewhere in the set.
type xmlBDSRef struct{}

type xmlUAPItem struct {
	FRN  int    `xml:"frn,attr"`
	Bit  int    `xml:"bit,attr"`
	FX   bool   `xml:"fx,attr"`
	Item string `xml:"item,attr"`
}

type xmlUAP struct {
	Name         string       `xml:"name,attr"`
	UseIfByteNr  int          `xml:"use_if_byte_nr,attr"`
	UseIfBitSet  int          `xml:"use_if_bit_set,attr"`
	IsSetTo      int          `xml:"is_set_to,attr"`
	HasPredicate bool         `xml:"has_predicate,attr"`
	Items        []xmlUAPItem `xml:"UAPItem"`
}

// LoadFile parses a single category XML file.
func LoadFile(path string) (catalog.Category, error) {
	f, err := os.Open(path)
	if err != nil {
		return catalog.Category{}, fmt.Errorf("catalogxml: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses one Category definition from r.
func Load(r io.Reader) (catalog.Category, error) {
	var xc xmlCategory
	if err := xml.NewDecoder(r).Decode(&xc); err != nil {
		return catalog.Category{}, fmt.Errorf("catalogxml: decode: %w", err)
	}
	return toCategory(xc)
}

// LoadDir parses every *.xml file in dir (non-recursive) into a Catalogue.
// This is the loader cmd/asterixd and cmd/asterixcat call at startup.
func LoadDir(dir string) (*catalog.Catalogue, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return nil, fmt.Errorf("catalogxml: glob %s: %w", dir, err)
	}
	categories := make([]catalog.Category, 0, len(matches))
	for _, path := range matches {
		c, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	cat, err := catalog.NewCatalogue(categories)
	if err != nil {
		return nil, err
	}
	resolveBDSDispatch(cat)
	return cat, nil
}

// resolveBDSDispatch replaces every placeholder BDS strategy produced by
// toStrategy (an empty register table, since a single DataItem element
// can't see the rest of the catalogue) with one built from the fully
// assembled Catalogue's pseudo-category-256 entries. Item pointers are
// shared between a UAP's entries and the items map they came from, so
// mutating Strategy in place updates every UAP referencing that item.
func resolveBDSDispatch(cat *catalog.Catalogue) {
	bds := catalog.NewBDSStrategy(cat)
	for _, id := range cat.Categories() {
		category, _ := cat.Lookup(id)
		for _, uap := range category.UAPs {
			for _, entry := range uap.Entries {
				if entry.Item == nil {
					continue
				}
				if _, ok := entry.Item.Strategy.(catalog.BDS); ok {
					entry.Item.Strategy = bds
				}
			}
		}
	}
}

func toCategory(xc xmlCategory) (catalog.Category, error) {
	items := make(map[string]*catalog.ItemDescription, len(xc.Items))
	for _, xi := range xc.Items {
		strat, err := toStrategy(xi)
		if err != nil {
			return catalog.Category{}, fmt.Errorf("catalogxml: category %d item %s: %w", xc.ID, xi.ID, err)
		}
		items[xi.ID] = &catalog.ItemDescription{
			Name:     fmt.Sprintf("I%03d/%s", xc.ID, xi.ID),
			Title:    xi.Name,
			Strategy: strat,
		}
	}

	uaps := make([]catalog.UAP, 0, len(xc.UAPs))
	for _, xu := range xc.UAPs {
		entries := make([]catalog.UAPEntry, 0, len(xu.Items))
		for _, xe := range xu.Items {
			if xe.FX {
				continue
			}
			entries = append(entries, catalog.UAPEntry{FRN: xe.FRN, Item: items[xe.Item]})
		}
		u := catalog.UAP{Name: xu.Name, Entries: entries}
		if xu.HasPredicate {
			byteNr, bitPos, want := xu.UseIfByteNr, xu.UseIfBitSet, xu.IsSetTo
			u.Matches = func(record []byte) bool {
				if byteNr < 0 || byteNr >= len(record) {
					return false
				}
				bit := (record[byteNr] >> uint(bitPos)) & 1
				return int(bit) == want
			}
		}
		uaps = append(uaps, u)
	}

	return catalog.Category{ID: xc.ID, UAPs: uaps}, nil
}

func toStrategy(xi xmlDataItem) (catalog.Strategy, error) {
	switch {
	case xi.Fixed != nil:
		return toFixed(*xi.Fixed), nil
	case xi.Variable != nil:
		return toVariable(*xi.Variable), nil
	case xi.Repetitive != nil:
		return catalog.Repetitive{RepLen: xi.Repetitive.RepLen, Element: toFixed(xi.Repetitive.Element)}, nil
	case xi.Compound != nil:
		return toCompound(*xi.Compound)
	case xi.Explicit != nil:
		return toExplicit(*xi.Explicit)
	case xi.BDS != nil:
		// LoadDir (via resolveBDSDispatch) resolves the real
		// register table via catalog.NewBDSStrategy once the whole
		// Catalogue, including pseudo-category 256, is assembled; a bare
		// DataItem only marks the slot as BDS-dispatched.
		return catalog.BDS{Registers: map[byte]catalog.Fixed{}}, nil
	default:
		return nil, fmt.Errorf("DataItem %s declares no recognised format", xi.ID)
	}
}

func toFixed(xf xmlFixed) catalog.Fixed {
	return catalog.Fixed{Len: xf.Length, Fields: toFields(xf.Bits)}
}

func toVariable(xv xmlVariable) catalog.Variable {
	parts := make([]catalog.FixedPart, 0, len(xv.Parts))
	for _, p := range xv.Parts {
		parts = append(parts, catalog.FixedPart{
			Fixed:     catalog.Fixed{Len: p.Length, Fields: toFields(p.Bits)},
			FXBitFrom: p.FXBitFrom,
		})
	}
	return catalog.Variable{Parts: parts}
}

func toCompound(xc xmlCompound) (catalog.Strategy, error) {
	subitems := make([]catalog.CompoundSubitem, 0, len(xc.Subitems))
	for i, xs := range xc.Subitems {
		var strat catalog.Strategy
		switch {
		case xs.Fixed != nil:
			strat = toFixed(*xs.Fixed)
		case xs.Variable != nil:
			strat = toVariable(*xs.Variable)
		case xs.Repetitive != nil:
			strat = catalog.Repetitive{RepLen: xs.Repetitive.RepLen, Element: toFixed(xs.Repetitive.Element)}
		case xs.Explicit != nil:
			var err error
			strat, err = toExplicit(*xs.Explicit)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("Compound subitem %d declares no recognised format", i)
		}
		subitems = append(subitems, catalog.CompoundSubitem{Strategy: strat})
	}
	return catalog.Compound{Presence: toVariable(xc.Presence), Subitems: subitems}, nil
}

func toExplicit(xe xmlExplicit) (catalog.Strategy, error) {
	if xe.Fixed == nil {
		return nil, fmt.Errorf("Explicit item missing a nested Fixed body")
	}
	return catalog.Explicit{Body: toFixed(*xe.Fixed)}, nil
}

func toFields(bits []xmlBits) []catalog.FieldDescriptor {
	fields := make([]catalog.FieldDescriptor, 0, len(bits))
	for _, b := range bits {
		fields = append(fields, catalog.FieldDescriptor{
			ShortName: b.Name,
			LongName:  longNameOr(b),
			BitFrom:   b.From,
			BitTo:     b.To,
			Encoding:  toEncoding(b.Encoding),
			Scale:     catalog.Scale{Num: b.ScaleNum, Den: b.ScaleDen},
			Unit:      b.Unit,
			FilterTag: b.Name,
		})
	}
	return fields
}

func longNameOr(b xmlBits) string {
	if b.LongName != "" {
		return b.LongName
	}
	return b.Name
}

func toEncoding(s string) catalog.Encoding {
	switch s {
	case "signed":
		return catalog.SignedTwosComplement
	case "ascii":
		return catalog.ASCII
	case "octal":
		return catalog.OctalDigits
	case "hex":
		return catalog.HexBytes
	case "time":
		return catalog.SpecialTime
	default:
		return catalog.Unsigned
	}
}
