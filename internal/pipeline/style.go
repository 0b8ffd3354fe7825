package pipeline

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/tallyfinance/tally/internal/ai"
	"github.com/tallyfinance/tally/internal/conversation"
	"github.com/tallyfinance/tally/internal/match"
)

// Style detection watches what the user actually writes. One
// observation per inbound message folds into a rolling profile; the
// derived flags tell Phase B whether "5 lucas", "bacán po" or plain
// formal Spanish fits this user. Patterns run over normalized text
// (lowercased, accents folded).
var (
	lucasRe  = regexp.MustCompile(`\b(lucas?|lukas?)\b`)
	chileRe  = regexp.MustCompile(`\b(po|cachai|bacan|fome|wena|pucha|caleta|filete)\b|\bal ?tiro\b|\bla raja\b`)
	formalRe = regexp.MustCompile(`\b(usted|quisiera|disculpe|agradezco|agradeceria)\b`)
)

// observeStyle folds the current message into the stored profile and
// returns the derived wire style.
func (p *Pipeline) observeStyle(ctx context.Context, userID, text string) *ai.UserStyle {
	st, err := p.state.Style(ctx, userID)
	if err != nil {
		slog.Debug("style read failed", "error", err)
	}
	st = foldStyle(st, text)
	if err := p.state.SaveStyle(ctx, userID, st); err != nil {
		slog.Debug("style save failed", "error", err)
	}
	return deriveStyle(st)
}

// foldStyle adds one message's observations.
func foldStyle(st conversation.StyleState, text string) conversation.StyleState {
	norm := match.Normalize(text)
	st.Turns++
	if lucasRe.MatchString(norm) {
		st.LucasTurns++
	}
	if chileRe.MatchString(norm) {
		st.ChileTurns++
	}
	if n := countEmoji(text); n > 0 {
		st.EmojiTurns++
		if n >= 3 {
			st.HeavyEmoji++
		}
	}
	if formalRe.MatchString(norm) {
		st.FormalTurns++
	}
	return st
}

// deriveStyle reads the accumulated profile as wire flags. Slang
// sticks once seen; formality needs a majority of turns; the emoji
// level follows frequency.
func deriveStyle(st conversation.StyleState) *ai.UserStyle {
	s := &ai.UserStyle{EmojiLevel: "none"}
	if st.Turns == 0 {
		return s
	}
	s.UsesLucas = st.LucasTurns > 0
	s.UsesChilenismos = st.ChileTurns > 0
	switch {
	case st.EmojiTurns == 0:
	case st.HeavyEmoji > 0 || st.EmojiTurns*2 >= st.Turns:
		s.EmojiLevel = "moderate"
	default:
		s.EmojiLevel = "light"
	}
	s.IsFormal = st.FormalTurns*2 > st.Turns
	return s
}

// countEmoji counts pictographic runes. Rough ranges are enough to
// size an emoji level.
func countEmoji(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case r >= 0x1F300 && r <= 0x1FAFF:
			n++
		case r >= 0x2600 && r <= 0x27BF:
			n++
		}
	}
	return n
}
