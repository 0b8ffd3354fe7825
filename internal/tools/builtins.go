package tools

import (
	"github.com/tallyfinance/tally/internal/ledger"
)

// RegisterBuiltins wires the six built-in chat tools into reg.
// MCP-discovered tools register separately after startup.
func RegisterBuiltins(reg *Registry, led *ledger.Ledger) {
	reg.Register(NewRegisterTransactionTool(led))
	reg.Register(NewBalanceTool(led))
	reg.Register(NewBudgetStatusTool(led))
	reg.Register(NewGoalStatusTool(led))
	reg.Register(NewAppInfoTool())
	reg.Register(NewGreetingTool())
}
