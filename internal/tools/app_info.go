package tools

import (
	"context"
	"strings"

	"github.com/tallyfinance/tally/internal/ai"
)

// AppInfoTool answers meta questions about the product itself. The
// answer text ships to Phase B as grounding material, so the model
// rephrases it in the user's tone instead of inventing features.
type AppInfoTool struct{}

func NewAppInfoTool() *AppInfoTool {
	return &AppInfoTool{}
}

func (t *AppInfoTool) Name() string { return "ask_app_info" }

func (t *AppInfoTool) Description() string {
	return "Responde CUALQUIER pregunta sobre TallyFinance, el bot, sus funcionalidades, como usarlo, limitaciones, o informacion general. Usa esto para ayuda/meta/preguntas sobre la app."
}

func (t *AppInfoTool) Parameters() ai.ToolParams {
	return ai.ToolParams{
		Type: "object",
		Properties: map[string]ai.ToolParam{
			"userQuestion": {
				Type:        "string",
				Description: "La pregunta original del usuario tal como la formulo",
			},
			"suggestedTopic": {
				Type:        "string",
				Description: "Tema sugerido: capabilities, how_to, limitations, channels, getting_started, about, security, pricing, other",
			},
		},
		Required: []string{"userQuestion"},
	}
}

func (t *AppInfoTool) RequiresContext() bool { return false }

// appKnowledge is the ground truth the phrasing model may draw on.
// Plain statements only; tone is Phase B's job.
var appKnowledge = map[string]string{
	"capabilities": "TallyFinance registra tus gastos por chat, te muestra el balance del mes, " +
		"el estado de tu presupuesto y el avance de tus metas de ahorro. Todo conversando, " +
		"sin formularios ni planillas.",
	"how_to": "Escríbele al bot como le contarías a un amigo: \"gasté 5 lucas en comida\" o " +
		"\"pagué 20 mil de bencina ayer\". Si falta algún dato, el bot lo pregunta. " +
		"Para consultar, pide \"mi balance\", \"cómo va mi presupuesto\" o \"mis metas\".",
	"limitations": "El bot no mueve plata ni se conecta a tu banco: solo registra lo que tú le " +
		"cuentas. Tampoco lee cartolas ni correos. Los ingresos y las metas se administran " +
		"desde la app; por chat se consultan.",
	"channels": "Puedes hablar con TallyFinance por WhatsApp, Telegram o Discord. La cuenta es " +
		"una sola: vinculas cada canal con un código y tus datos se ven igual en todos.",
	"getting_started": "Crea tu cuenta en la app de TallyFinance, genera un código de " +
		"vinculación y mándaselo al bot como \"link TU-CODIGO\". Listo, desde ahí registras " +
		"gastos conversando.",
	"about": "TallyFinance es un asistente de finanzas personales chileno. La idea es que " +
		"anotar un gasto cueste lo mismo que mandar un mensaje.",
	"security": "Tus datos viajan cifrados y no se comparten ni se venden. El bot guarda solo " +
		"lo que registras. Puedes pedir borrar tu cuenta y todos tus datos cuando quieras.",
	"pricing": "TallyFinance es gratis mientras dure la beta. Si eso cambia, se avisa con " +
		"anticipación dentro de la app.",
	"other": "TallyFinance es un asistente de finanzas personales por chat: registra gastos, " +
		"muestra balances, presupuestos y metas. Pregunta por algo concreto y te cuento más.",
}

// topicHints routes free-form questions when Phase A did not suggest a
// usable topic. First hit wins, order matters: more specific first.
var topicHints = []struct {
	topic string
	words []string
}{
	{"security", []string{"seguro", "segura", "privacidad", "datos", "banco", "contraseña"}},
	{"pricing", []string{"precio", "cuesta", "gratis", "pagar", "plan", "cobra"}},
	{"channels", []string{"whatsapp", "telegram", "discord", "canal", "canales"}},
	{"getting_started", []string{"empezar", "empiezo", "partir", "parto", "registrarme", "crear cuenta", "vincul"}},
	{"limitations", []string{"no puede", "no pueden", "limitac", "cartola", "transferir"}},
	{"capabilities", []string{"puedes hacer", "sabes hacer", "funciones", "funcionalidades", "para que sirve", "para qué sirve"}},
	{"how_to", []string{"como", "cómo", "uso", "usar", "anoto", "registro un"}},
	{"about", []string{"quien", "quién", "que es", "qué es", "que eres", "qué eres"}},
}

func (t *AppInfoTool) Execute(ctx context.Context, args map[string]any) *Result {
	question, _ := args["userQuestion"].(string)
	if question == "" {
		question = ToolMessageFromCtx(ctx)
	}

	topic := ""
	if suggested, ok := args["suggestedTopic"].(string); ok {
		if _, known := appKnowledge[suggested]; known {
			topic = suggested
		}
	}
	if topic == "" {
		topic = detectTopic(question)
	}

	return OKResult(t.Name(), map[string]any{
		"topic":    topic,
		"answer":   appKnowledge[topic],
		"question": question,
	})
}

func detectTopic(question string) string {
	q := strings.ToLower(question)
	for _, hint := range topicHints {
		for _, w := range hint.words {
			if strings.Contains(q, w) {
				return hint.topic
			}
		}
	}
	return "other"
}
