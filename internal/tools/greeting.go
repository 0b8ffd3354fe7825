package tools

import (
	"context"

	"github.com/tallyfinance/tally/internal/ai"
)

// GreetingTool exists so simple hellos resolve as a cheap action
// instead of a clarification. Phase B does all the talking.
type GreetingTool struct{}

func NewGreetingTool() *GreetingTool {
	return &GreetingTool{}
}

func (t *GreetingTool) Name() string { return "greeting" }

func (t *GreetingTool) Description() string {
	return "Responde a saludos simples del usuario (hola, buenos dias, como estas, etc.)"
}

func (t *GreetingTool) Parameters() ai.ToolParams { return noParams() }

func (t *GreetingTool) RequiresContext() bool { return false }

func (t *GreetingTool) Execute(ctx context.Context, args map[string]any) *Result {
	return OKResult(t.Name(), nil)
}
