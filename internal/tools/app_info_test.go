package tools

import (
	"context"
	"testing"
)

func TestAppInfoTopicSelection(t *testing.T) {
	tool := NewAppInfoTool()

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			name: "suggested topic wins",
			args: map[string]any{"userQuestion": "hola una duda", "suggestedTopic": "pricing"},
			want: "pricing",
		},
		{
			name: "unknown suggestion falls back to the question",
			args: map[string]any{"userQuestion": "¿es seguro meter mis datos aquí?", "suggestedTopic": "finanzas"},
			want: "security",
		},
		{
			name: "channel question",
			args: map[string]any{"userQuestion": "te puedo hablar por telegram?"},
			want: "channels",
		},
		{
			name: "how to question",
			args: map[string]any{"userQuestion": "como anoto un gasto"},
			want: "how_to",
		},
		{
			name: "capability question",
			args: map[string]any{"userQuestion": "que puedes hacer tu"},
			want: "capabilities",
		},
		{
			name: "unplaceable question",
			args: map[string]any{"userQuestion": "me gustan los gatos"},
			want: "other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tool.Execute(context.Background(), tt.args)
			if !res.OK {
				t.Fatalf("got error %q, want ok", res.ErrorCode)
			}
			if got := res.Data["topic"]; got != tt.want {
				t.Errorf("topic = %v, want %q", got, tt.want)
			}
			answer, _ := res.Data["answer"].(string)
			if answer == "" {
				t.Error("every topic must carry an answer")
			}
		})
	}
}

func TestAppInfoFallsBackToContextMessage(t *testing.T) {
	tool := NewAppInfoTool()

	ctx := WithToolMessage(context.Background(), "cuanto cuesta la app")
	res := tool.Execute(ctx, map[string]any{})
	if !res.OK {
		t.Fatalf("got error %q, want ok", res.ErrorCode)
	}
	if got := res.Data["topic"]; got != "pricing" {
		t.Errorf("topic = %v, want pricing from the raw message", got)
	}
	if got := res.Data["question"]; got != "cuanto cuesta la app" {
		t.Errorf("question = %v, want the context message", got)
	}
}

func TestAppInfoKnowledgeCoversAllTopics(t *testing.T) {
	for _, topic := range []string{
		"capabilities", "how_to", "limitations", "channels",
		"getting_started", "about", "security", "pricing", "other",
	} {
		if appKnowledge[topic] == "" {
			t.Errorf("topic %q has no answer", topic)
		}
	}
}
