package match

import "testing"

func TestCategoryLadder(t *testing.T) {
	categories := []string{"Comida", "Transporte", "Cuentas", "Carrete"}

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"exact", "comida", "Comida", true},
		{"exact keeps casing", "CARRETE", "Carrete", true},
		{"accented input", "comidá", "Comida", true},
		{"synonym", "almuerzo", "Comida", true},
		{"synonym transporte", "bencina", "Transporte", true},
		{"synonym canonical absent", "farmacia", "", false},
		{"substring", "comi", "Comida", true},
		{"substring reversed", "pago de cuentas", "Cuentas", true},
		{"typo one swap", "comgda", "Comida", true},
		{"typo two", "camida", "Comida", true},
		{"trailing s", "comidas", "Comida", true},
		{"too far", "xxxida", "", false},
		{"unrelated", "paracaidismo", "", false},
		{"empty input", "  ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Category(tt.input, categories)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Category(%q): got (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCategoryNoCategories(t *testing.T) {
	if got, ok := Category("comida", nil); ok {
		t.Errorf("match against empty list: got %q", got)
	}
}

// The ladder order is part of the contract: exact beats substring,
// synonym beats substring.
func TestCategoryOrderPrecedence(t *testing.T) {
	got, ok := Category("super", []string{"Supermercado", "Super"})
	if !ok || got != "Super" {
		t.Errorf("exact should beat substring: got (%q, %v)", got, ok)
	}

	got, ok = Category("almuerzo", []string{"Almuerzos", "Comida"})
	if !ok || got != "Comida" {
		t.Errorf("synonym should beat substring: got (%q, %v)", got, ok)
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"comida", "comida", 0},
		{"comida", "comidas", 1},
		{"comida", "comdia", 2},
		{"comida", "camida", 1},
		{"comida", "cam", 4},
		{"", "ab", 2},
		{"ñoño", "nono", 2},
	}
	for _, tt := range tests {
		if got := distance(tt.a, tt.b); got != tt.want {
			t.Errorf("distance(%q, %q): got %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCandidates(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		categories []string
		want       []string
	}{
		{
			name:       "single match stays single",
			input:      "comida",
			categories: []string{"Comida", "Transporte"},
			want:       []string{"Comida"},
		},
		{
			name:       "substring ambiguity returns every hit",
			input:      "cuenta",
			categories: []string{"Cuentas", "Cuenta Corriente", "Comida"},
			want:       []string{"Cuentas", "Cuenta Corriente"},
		},
		{
			name:       "distance ties all surface",
			input:      "peles",
			categories: []string{"Pelis", "Peces"},
			want:       []string{"Pelis", "Peces"},
		},
		{
			name:       "no match",
			input:      "paracaidismo",
			categories: []string{"Comida"},
			want:       nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Candidates(tt.input, tt.categories)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("candidate %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
