// Package match resolves free-form category mentions against a user's
// actual category list. Matching is deliberately cheap and ordered:
// exact, then the synonym table, then substring, then typo-tolerant
// comparison. The synonym table is Chilean Spanish, same locale as the
// product.
package match

import "strings"

// synonyms maps a canonical category name to the everyday words users
// write instead of it. Matching a synonym only counts when the
// canonical name exists in the user's own list.
var synonyms = map[string][]string{
	"comida": {
		"almuerzo", "desayuno", "cena", "once", "colacion", "picoteo",
		"restoran", "restaurant", "sushi", "completo", "empanada", "pizza",
	},
	"supermercado": {
		"super", "feria", "mercado", "lider", "jumbo", "unimarc", "tottus",
	},
	"transporte": {
		"micro", "metro", "bip", "uber", "taxi", "colectivo", "bencina",
		"peaje", "pasaje",
	},
	"entretenimiento": {
		"carrete", "cine", "copete", "salida", "panorama", "netflix",
		"spotify", "juegos",
	},
	"cuentas": {
		"luz", "agua", "gas", "internet", "arriendo", "plan", "celular",
	},
	"salud": {
		"farmacia", "remedio", "remedios", "doctor", "consulta", "isapre",
	},
	"ropa": {
		"zapatillas", "polera", "pantalon", "chaqueta",
	},
}

const maxDistance = 2

// Category finds the best entry in categories for input, returning
// the entry with its original casing. ok is false when nothing passes
// the matching ladder.
func Category(input string, categories []string) (string, bool) {
	c := Candidates(input, categories)
	if len(c) == 0 {
		return "", false
	}
	return c[0], true
}

// Candidates returns every entry tied at the first matching rung, in
// list order. More than one result means the mention was ambiguous and
// the user should pick.
func Candidates(input string, categories []string) []string {
	needle := Normalize(input)
	if needle == "" || len(categories) == 0 {
		return nil
	}

	norm := make([]string, len(categories))
	for i, c := range categories {
		norm[i] = Normalize(c)
	}

	// Exact.
	var hits []string
	for i, c := range norm {
		if c == needle {
			hits = append(hits, categories[i])
		}
	}
	if len(hits) > 0 {
		return hits
	}

	// Synonym table: the written word stands for a canonical category
	// the user actually has.
	for canonical, words := range synonyms {
		for _, w := range words {
			if w != needle {
				continue
			}
			for i, c := range norm {
				if c == canonical {
					hits = append(hits, categories[i])
				}
			}
		}
	}
	if len(hits) > 0 {
		return hits
	}

	// Substring, either direction.
	for i, c := range norm {
		if strings.Contains(c, needle) || strings.Contains(needle, c) {
			hits = append(hits, categories[i])
		}
	}
	if len(hits) > 0 {
		return hits
	}

	// Typo-tolerant: positional mismatches plus length delta, ties at
	// the best distance all count.
	bestDist := maxDistance + 1
	for _, c := range norm {
		if d := distance(needle, c); d < bestDist {
			bestDist = d
		}
	}
	if bestDist > maxDistance {
		return nil
	}
	for i, c := range norm {
		if distance(needle, c) == bestDist {
			hits = append(hits, categories[i])
		}
	}
	return hits
}

// Normalize lowercases, trims, and folds accented vowels so "comidá"
// and "Comida" compare equal. Ñ stays distinct.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return accentFolder.Replace(s)
}

var accentFolder = strings.NewReplacer(
	"á", "a",
	"é", "e",
	"í", "i",
	"ó", "o",
	"ú", "u",
	"ü", "u",
)

// distance counts character-position mismatches over the shorter
// length plus the length difference. Cheaper than full edit distance
// and good enough for one-or-two-keystroke typos.
func distance(a, b string) int {
	ar := []rune(a)
	br := []rune(b)
	n := len(ar)
	if len(br) < n {
		n = len(br)
	}
	d := len(ar) - len(br)
	if d < 0 {
		d = -d
	}
	for i := 0; i < n; i++ {
		if ar[i] != br[i] {
			d++
		}
	}
	return d
}
