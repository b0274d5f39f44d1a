// Package notify surfaces mentions and connection banners on the terminal.
package notify

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dkeye/chatlink/internal/core"
	"github.com/dkeye/chatlink/internal/domain"
	"github.com/pterm/pterm"
)

const previewLen = 80

type Console struct {
	mu      sync.Mutex
	mention *pterm.PrefixPrinter
	warn    *pterm.PrefixPrinter
	fail    *pterm.PrefixPrinter
	info    *pterm.PrefixPrinter
	last    map[string]domain.ConnStatus
}

var _ core.Notifier = (*Console)(nil)

func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	mention := pterm.Info.WithPrefix(pterm.Prefix{Text: "MENTION", Style: pterm.NewStyle(pterm.BgMagenta, pterm.FgBlack)})
	return &Console{
		mention: mention.WithWriter(w),
		warn:    pterm.Warning.WithWriter(w),
		fail:    pterm.Error.WithWriter(w),
		info:    pterm.Success.WithWriter(w),
		last:    make(map[string]domain.ConnStatus),
	}
}

func (c *Console) Mention(msg domain.Message) {
	from := fmt.Sprintf("user %d", msg.UserID)
	if msg.User != nil && msg.User.Username != "" {
		from = msg.User.Username
	}
	where := "dm"
	if msg.ChannelID != nil {
		where = fmt.Sprintf("#%d", *msg.ChannelID)
	}
	content := []rune(msg.Content)
	if len(content) > previewLen {
		content = append(content[:previewLen], '…')
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mention.Printfln("%s in %s: %s", from, where, string(content))
}

// Banner reports connection status changes of socket name. Repeated
// identical statuses print nothing.
func (c *Console) Banner(name string, st domain.ConnStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, seen := c.last[name]
	c.last[name] = st
	if seen && prev == st {
		return
	}
	switch {
	case st.State == domain.PermanentlyFailed:
		c.fail.Printfln("%s: connection lost, reconnect manually", name)
	case st.FailoverDetected && !prev.FailoverDetected:
		c.warn.Printfln("%s: server failover detected, reconnecting", name)
	case st.Connected && seen && !prev.Connected:
		c.info.Printfln("%s: connected", name)
	}
}
