package version

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Version
		wantErr bool
	}{
		{"1.0", Version{1, 0}, false},
		{"2.15", Version{2, 15}, false},
		{"0.1", Version{0, 1}, false},
		{"1", Version{}, true},
		{"1.0.0", Version{}, true},
		{"a.b", Version{}, true},
		{"1.", Version{}, true},
		{".0", Version{}, true},
		{"", Version{}, true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	v := Version{Major: 1, Minor: 4}
	parsed, err := Parse(v.String())
	if err != nil {
		t.Fatalf("Parse(%q): %v", v.String(), err)
	}
	if parsed != v {
		t.Errorf("round trip: got %v, want %v", parsed, v)
	}
}

func TestCompatible(t *testing.T) {
	v1 := Version{1, 0}
	if !v1.Compatible(Version{1, 9}) {
		t.Error("same major should be compatible")
	}
	if v1.Compatible(Version{2, 0}) {
		t.Error("different major should be incompatible")
	}
}

func TestCurrentParses(t *testing.T) {
	if _, err := Parse(Current); err != nil {
		t.Fatalf("Current does not parse: %v", err)
	}
}
