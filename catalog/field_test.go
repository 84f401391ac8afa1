package catalog

import "testing"

func TestFieldWidth(t *testing.T) {
	f := FieldDescriptor{BitFrom: 15, BitTo: 8}
	if got := f.Width(); got != 8 {
		t.Fatalf("got %d want 8", got)
	}
}

func TestFieldValidate(t *testing.T) {
	cases := []struct {
		name    string
		f       FieldDescriptor
		wantErr bool
	}{
		{"ok unsigned", FieldDescriptor{ShortName: "SAC", BitFrom: 15, BitTo: 8, Encoding: Unsigned}, false},
		{"ok signed", FieldDescriptor{ShortName: "RHO", BitFrom: 15, BitTo: 0, Encoding: SignedTwosComplement}, false},
		{"bad order", FieldDescriptor{ShortName: "X", BitFrom: 3, BitTo: 7}, true},
		{"ascii not byte aligned", FieldDescriptor{ShortName: "Y", BitFrom: 11, BitTo: 0, Encoding: ASCII}, true},
		{"ascii ok", FieldDescriptor{ShortName: "Z", BitFrom: 15, BitTo: 0, Encoding: ASCII}, false},
		{"integer too wide", FieldDescriptor{ShortName: "W", BitFrom: 65, BitTo: 0, Encoding: Unsigned}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.f.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestScaleApply(t *testing.T) {
	s := Scale{Num: 1, Den: 128}
	if got := s.Apply(256); got != 2 {
		t.Fatalf("got %v want 2", got)
	}
	zero := Scale{}
	if got := zero.Apply(42); got != 42 {
		t.Fatalf("zero scale should be identity, got %v", got)
	}
}
