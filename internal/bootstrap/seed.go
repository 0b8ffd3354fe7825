// Package bootstrap holds first-run defaults: the starter category
// set and helpers to provision a fresh account.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/tallyfinance/tally/internal/ledger"
)

// DefaultCategories is the starter expense category set, seeded when a
// channel identity links to an account. Names follow everyday Chilean
// usage; users rename or extend them through the companion app.
var DefaultCategories = []string{
	"Supermercado",
	"Comida",
	"Transporte",
	"Cuentas",
	"Arriendo",
	"Salud",
	"Entretención",
	"Ropa",
	"Mascotas",
	"Otros",
}

// CategorySeeds returns a copy so callers cannot mutate the defaults.
func CategorySeeds() []string {
	out := make([]string, len(DefaultCategories))
	copy(out, DefaultCategories)
	return out
}

// CreateUser provisions an account with sensible personality defaults
// and the starter categories. Used by the onboard command and the
// local REPL.
func CreateUser(ctx context.Context, led *ledger.Ledger, displayName, tone string) (*ledger.User, error) {
	if tone == "" {
		tone = "amistoso"
	}
	user := &ledger.User{
		DisplayName:          displayName,
		PersonalityTone:      tone,
		PersonalityIntensity: 0.5,
		NotificationLevel:    "normal",
	}
	if err := led.Users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := led.Categories.Seed(ctx, user.ID, DefaultCategories); err != nil {
		return nil, fmt.Errorf("seed categories: %w", err)
	}
	return user, nil
}
