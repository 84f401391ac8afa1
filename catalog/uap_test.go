package catalog

import "testing"

func TestCategoryResolveFirstMatchWins(t *testing.T) {
	item := &ItemDescription{Name: "I048/010", Strategy: Fixed{Len: 2}}
	cat := Category{
		ID: 48,
		UAPs: []UAP{
			{Name: "v1.15", Matches: func(r []byte) bool { return len(r) > 0 && r[0]&0x01 == 1 }, Entries: []UAPEntry{{FRN: 1, Item: item}}},
			{Name: "default", Matches: nil, Entries: []UAPEntry{{FRN: 1, Item: item}}},
		},
	}
	u, ok := cat.Resolve([]byte{0x01})
	if !ok || u.Name != "v1.15" {
		t.Fatalf("expected v1.15 to win, got %+v ok=%v", u, ok)
	}
	u, ok = cat.Resolve([]byte{0x00})
	if !ok || u.Name != "default" {
		t.Fatalf("expected fallback to default UAP, got %+v ok=%v", u, ok)
	}
}

func TestCategoryResolveNoMatch(t *testing.T) {
	cat := Category{ID: 1, UAPs: []UAP{{Name: "only", Matches: func([]byte) bool { return false }}}}
	if _, ok := cat.Resolve([]byte{0x00}); ok {
		t.Fatalf("expected no UAP to match")
	}
}

func TestNewCatalogueRejectsDuplicates(t *testing.T) {
	_, err := NewCatalogue([]Category{{ID: 48}, {ID: 48}})
	if err == nil {
		t.Fatal("expected error for duplicate category id")
	}
}

func TestCatalogueLookup(t *testing.T) {
	c, err := NewCatalogue([]Category{{ID: 48}, {ID: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Lookup(48); !ok {
		t.Fatal("expected category 48 present")
	}
	if _, ok := c.Lookup(99); ok {
		t.Fatal("expected category 99 absent")
	}
}

func TestNewBDSStrategyBuildsRegisterTable(t *testing.T) {
	bds20 := &ItemDescription{Name: "BDS 0x20", Strategy: Fixed{Len: 7}}
	c, err := NewCatalogue([]Category{
		{
			ID: BDSPseudoCategory,
			UAPs: []UAP{{
				Name:    "bds",
				Entries: []UAPEntry{{FRN: 0x20, Item: bds20}},
			}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	strat := NewBDSStrategy(c)
	if _, ok := strat.Registers[0x20]; !ok {
		t.Fatal("expected register 0x20 to be present in BDS strategy")
	}
}

func TestNewBDSStrategyMissingCategory(t *testing.T) {
	c, err := NewCatalogue(nil)
	if err != nil {
		t.Fatal(err)
	}
	strat := NewBDSStrategy(c)
	if len(strat.Registers) != 0 {
		t.Fatalf("expected empty register table, got %d entries", len(strat.Registers))
	}
}
