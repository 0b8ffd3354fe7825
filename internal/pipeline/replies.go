package pipeline

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tallyfinance/tally/internal/ledger"
)

// Terminal reply texts. The decision service phrases everything it
// can; these cover the turns that never reach it.
const (
	replyUnlinked = "¡Hola! Soy Tally 👋 Para conectar tu cuenta, mándame el código que te muestra la app, así: link ABC123"

	replyLinkInvalid = "Ese código no me suena. Revisa que esté igualito a como lo muestra la app, o genera uno nuevo."
	replyLinkTaken   = "Este chat ya está conectado a otra cuenta. Si eres tú, desvincúlalo primero desde la app."

	replyStillWorking = "Dame un segundo, todavía estoy con tu mensaje anterior."
	replyBusy         = "Espérame un toque, estoy terminando lo anterior y te respondo."

	replyColdStart = "Me pillaste echando una siesta 😴 Dame unos segundos y mándamelo de nuevo, porfa."
	replyTimeout   = "Uf, me demoré más de la cuenta con eso. ¿Me lo mandas de nuevo?"

	replyNotUnderstood = "No te caché bien eso último. ¿Me lo dices con otras palabras?"
	replyApology       = "Se me enredaron los cables 😅 Intenta de nuevo en un ratito."
)

func linkedReply(user *ledger.User) string {
	name := strings.TrimSpace(user.DisplayName)
	if name == "" {
		return "¡Listo! Quedamos conectados. Cuéntame tus gastos cuando quieras."
	}
	return fmt.Sprintf("¡Listo, %s! Quedamos conectados. Cuéntame tus gastos cuando quieras.", name)
}

// knownOpenings are the confirmation openings the phrasing service
// rotates through. The previous one is fed back so consecutive replies
// don't all start with "¡Listo!".
var knownOpenings = []string{
	"listo", "anotado", "hecho", "ya quedó", "perfecto", "ok", "buena", "dale",
}

// extractOpening returns the known opening a message starts with, or
// empty. The opening must end at a word boundary, so "ok" never
// matches "okey".
func extractOpening(message string) string {
	norm := strings.ToLower(strings.TrimSpace(message))
	norm = strings.TrimLeft(norm, "¡¿")
	for _, op := range knownOpenings {
		if !strings.HasPrefix(norm, op) {
			continue
		}
		rest := norm[len(op):]
		if rest == "" {
			return op
		}
		r, _ := utf8.DecodeRuneInString(rest)
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return op
		}
	}
	return ""
}
