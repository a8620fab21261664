package tui

import "fmt"

// RenderBanner produces the startup banner: origin forwarded to, tunnel
// authority connected through, current status, and the configured body
// ceiling. Unlike the teacher's banner this protocol never hands back a
// public URL or a TTL (spec.md has no resume/auth-ack handshake carrying
// either), so neither is rendered.
func RenderBanner(origin, tunnelAuthority string, maxBodySizeBytes int, status string) string {
	out := "\n"
	out += fmt.Sprintf("  %s\n", titleStyle.Render("xpose-agent"))
	out += "\n"
	out += fmt.Sprintf("  %s    %s %s %s\n",
		labelStyle.Render("Forwarding"),
		tunnelAuthority,
		labelStyle.Render("->"),
		origin,
	)
	out += fmt.Sprintf("  %s        %s\n",
		labelStyle.Render("Status"),
		StyledConnectionStatus(status),
	)
	if maxBodySizeBytes > 0 {
		out += fmt.Sprintf("  %s      %d bytes\n",
			labelStyle.Render("Max body"),
			maxBodySizeBytes,
		)
	}
	out += "\n"
	out += dimStyle.Render("  ─────────────────────────────────────────────────────────")
	out += "\n"
	return out
}
