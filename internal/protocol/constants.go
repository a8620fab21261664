package protocol

import "time"

const (
	// FrameMagic is the 4-byte ASCII magic prefixing every binary envelope.
	FrameMagic = "CHNK"
	// FrameHeaderLen is the fixed portion of an envelope: magic + id_len + body_len.
	FrameHeaderLen = 12

	// HTTPBodyChunkSize is the maximum number of response body bytes carried
	// in a single outbound CHNK envelope.
	HTTPBodyChunkSize = 4096

	// DefaultMaxBodySizeBytes bounds inbound request bodies and outbound
	// response bodies when no --max-body-size override is given.
	DefaultMaxBodySizeBytes = 5 * 1024 * 1024

	// ReconnectDelay is the fixed delay before re-dialing the tunnel server
	// after a non-authentication transport failure.
	ReconnectDelay = 5 * time.Second

	// TunnelConnectPath is the fixed rendezvous path joined onto the
	// configured tunnel authority to build the wss:// dial URL.
	TunnelConnectPath = "/c97ad31f9fc13ff4e6bd022e74dd561ce93cf67e624dc061d461c1226e70"

	// UnauthorizedMarker is the substring that, when present in a transport
	// error's rendering, is treated as a fatal authentication rejection.
	UnauthorizedMarker = "Unauthorized"
)
