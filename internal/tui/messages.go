package tui

import (
	tea "charm.land/bubbletea/v2"

	"github.com/xpose-agent/cli/internal/tunnel"
)

// tunnelEventMsg wraps one event from the client's event channel.
type tunnelEventMsg struct {
	event tunnel.Event
}

// listenForEvents returns a command that blocks on the client's event
// channel and feeds events into the Bubble Tea runtime one at a time.
func listenForEvents(client *tunnel.Client) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-client.Events
		if !ok {
			return nil
		}
		return tunnelEventMsg{event: ev}
	}
}
