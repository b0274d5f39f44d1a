package notify

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dkeye/chatlink/internal/domain"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
)

func newTestConsole() (*Console, *bytes.Buffer) {
	pterm.DisableStyling()
	var buf bytes.Buffer
	return NewConsole(&buf), &buf
}

func TestMention(t *testing.T) {
	c, buf := newTestConsole()
	ch := domain.ChannelID(3)
	c.Mention(domain.Message{
		ID:        1,
		Content:   "hey @alice look",
		UserID:    9,
		ChannelID: &ch,
		User:      &domain.User{ID: 9, Username: "bob"},
	})
	out := buf.String()
	assert.Contains(t, out, "bob in #3: hey @alice look")
}

func TestMentionTruncatesLongContent(t *testing.T) {
	c, buf := newTestConsole()
	c.Mention(domain.Message{UserID: 9, Content: strings.Repeat("x", 200)})
	out := buf.String()
	assert.Contains(t, out, "user 9 in dm: ")
	assert.Contains(t, out, strings.Repeat("x", previewLen)+"…")
	assert.NotContains(t, out, strings.Repeat("x", previewLen+1))
}

func TestBannerPrintsTransitionsOnce(t *testing.T) {
	c, buf := newTestConsole()
	open := domain.ConnStatus{State: domain.Open, StateName: "open", Connected: true}
	failover := domain.ConnStatus{State: domain.Reconnecting, StateName: "reconnecting", Reconnecting: true, FailoverDetected: true}

	c.Banner("server", open)
	assert.Empty(t, buf.String())

	c.Banner("server", failover)
	c.Banner("server", failover)
	assert.Equal(t, 1, strings.Count(buf.String(), "failover detected"))

	reopened := open
	reopened.FailoverDetected = true
	c.Banner("server", reopened)
	assert.Contains(t, buf.String(), "server: connected")

	c.Banner("voice", domain.ConnStatus{State: domain.PermanentlyFailed, StateName: "permanently_failed"})
	assert.Contains(t, buf.String(), "voice: connection lost")
}
