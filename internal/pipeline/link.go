package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tallyfinance/tally/internal/ledger"
	"github.com/tallyfinance/tally/internal/metrics"
	"github.com/tallyfinance/tally/pkg/protocol"
)

const (
	linkCacheSize = 256
	linkCacheTTL  = 10 * time.Minute
)

// parseLinkCommand extracts the code from a "link ABC123" message.
// Channel adapters normalize their platform deep links ("/start
// link-ABC123") to this form before publishing.
func parseLinkCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "link") {
		return "", false
	}
	return strings.ToUpper(fields[1]), true
}

// link consumes a deep-link code and attaches the sender's platform
// identity to the account that issued it. Runs before identity
// resolution and outside the lock: the sender has no account yet.
func (p *Pipeline) link(ctx context.Context, t *turn, code string) Reply {
	if text, ok := p.links.get(code, p.now()); ok {
		return Reply{Text: text, Kind: TerminalLinkFail}
	}

	user, err := p.led.Users.LinkChannel(ctx, code, t.msg.Channel, t.msg.SenderID)
	switch {
	case errors.Is(err, ledger.ErrCodeInvalid):
		p.links.put(code, replyLinkInvalid, p.now())
		return Reply{Text: replyLinkInvalid, Kind: TerminalLinkFail}
	case errors.Is(err, ledger.ErrChannelTaken):
		p.links.put(code, replyLinkTaken, p.now())
		return Reply{Text: replyLinkTaken, Kind: TerminalLinkFail}
	case err != nil:
		t.log.Error("link failed", "error", err)
		return Reply{Text: replyApology, Kind: TerminalApology}
	}

	t.user = user
	if len(p.seeds) > 0 {
		if err := p.led.Categories.Seed(ctx, user.ID, p.seeds); err != nil {
			t.log.Warn("category seed failed", "user_id", user.ID, "error", err)
		}
	}
	metrics.LinksTotal.Inc()
	p.emit(protocol.EventLink, protocol.LinkPayload{Channel: t.msg.Channel, UserID: user.ID.String()})
	t.log.Info("channel linked", "user_id", user.ID)
	return Reply{Text: linkedReply(user), Kind: TerminalLinked}
}

// linkCache is a bounded table of recently failed link codes, so a
// retried bad code gets the same answer without another ledger write
// attempt. Access refreshes an entry; when the table is full, the
// stalest entry makes room.
type linkCache struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	entries map[string]*linkEntry
}

type linkEntry struct {
	reply  string
	seenAt time.Time
}

func newLinkCache(max int, ttl time.Duration) *linkCache {
	return &linkCache{max: max, ttl: ttl, entries: make(map[string]*linkEntry)}
}

func (c *linkCache) get(code string, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[code]
	if !ok {
		return "", false
	}
	if now.Sub(e.seenAt) > c.ttl {
		delete(c.entries, code)
		return "", false
	}
	e.seenAt = now
	return e.reply, true
}

func (c *linkCache) put(code, reply string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[code]; ok {
		e.reply, e.seenAt = reply, now
		return
	}
	if len(c.entries) >= c.max {
		c.evict(now)
	}
	c.entries[code] = &linkEntry{reply: reply, seenAt: now}
}

// evict drops expired entries, then the least recently seen one if the
// table is still full. Callers hold the lock.
func (c *linkCache) evict(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, e := range c.entries {
		if now.Sub(e.seenAt) > c.ttl {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.seenAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.seenAt
		}
	}
	if len(c.entries) >= c.max && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
