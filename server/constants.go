package server

import "github.com/nedpals/davi-felica-agent/buildinfo"

// mDNS service discovery constants
var (
	MDNSServiceType = "_felica-agent._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// WebSocket message types besides the session event types, which are sent
// under their own names (card_detected, read_success, ...).
const (
	WSMessageTypeStatus      = "status"
	WSMessageTypeGetStatus   = "getStatus"
	WSMessageTypeGetLastRead = "getLastRead"
	WSMessageTypeError       = "error"
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)
