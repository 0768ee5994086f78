// Package signaling contains the WebSocket signaling surface: per-connection
// clients, the wire protocol, and presence broadcasting for rooms.
//
// Media never passes through here. The relay only carries the negotiation and
// presence messages peers need to establish their own encrypted sessions.
package signaling
