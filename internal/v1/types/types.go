// Package types defines shared domain types and collaborator interfaces for
// the push-to-talk signaling server.
package types

import (
	"context"
	"time"
)

// --- Core Domain Types ---

// UserIDType uniquely identifies an authenticated principal across
// reconnects. Two connections sharing a UserIDType are the same user.
type UserIDType string

// ConnIDType uniquely identifies one live transport connection. Unlike
// UserIDType, it does not survive a reconnect.
type ConnIDType string

// RoomIDType identifies a room. Rooms are created lazily on first join and
// destroyed when their last member leaves.
type RoomIDType string

// DisplayNameType is the human-readable name shown to other room members.
type DisplayNameType string

// Principal is the authenticated identity bound to a Connection for its
// lifetime. Produced once by a Verifier during the AUTH handshake.
type Principal struct {
	UserID      UserIDType
	DisplayName DisplayNameType
	PhotoURL    string
}

// FloorGrant represents the exclusive right to transmit in a room. At most
// one exists per room at any time.
type FloorGrant struct {
	HolderUserID      UserIDType
	HolderDisplayName DisplayNameType
	GrantedAt         time.Time
	ExpiresAt         time.Time
}

// Expired reports whether the grant's TTL has elapsed as of now. A nil
// grant is always considered expired.
func (g *FloorGrant) Expired(now time.Time) bool {
	return g == nil || !now.Before(g.ExpiresAt)
}

// MemberInfo is a lightweight snapshot of a room member, used in ROOM_STATE
// and USER_JOINED frames.
type MemberInfo struct {
	UserID      UserIDType      `json:"userId"`
	DisplayName DisplayNameType `json:"displayName"`
}

// --- Shared Interfaces ---

// Verifier validates a bearer credential and returns the Principal it
// names. Implementations: a trust-anchored JWKS verifier for production
// and a development bypass for local testing. See internal/v1/auth.
type Verifier interface {
	Verify(ctx context.Context, token string, clientDisplayName string) (Principal, error)
}

// Connection is the behavior the room/router/relay packages need from a
// live connection, without depending on the transport package's WebSocket
// plumbing.
type Connection interface {
	ID() ConnIDType
	UserID() UserIDType
	DisplayName() DisplayNameType
	Send(frame any)
	Close(code int, reason string)
}

// Bus defines the interface for optional cross-instance pub/sub fan-out.
// A nil Bus means the server runs in single-instance mode: broadcasts stay
// in-process, matching the "no persisted state" model exactly.
type Bus interface {
	Publish(ctx context.Context, roomID RoomIDType, frame any) error
	PublishDirect(ctx context.Context, targetUserID UserIDType, frame any) error
	Subscribe(ctx context.Context, roomID RoomIDType, handler func(payload []byte))
	Ping(ctx context.Context) error
	Close() error
}

// Close codes sent on connection-scoped failures.
const (
	CloseAuthTimeout      = 4001
	CloseAuthFailed       = 4002
	CloseServerAtCapacity = 4003
	CloseReplaced         = 4010
)

// Error codes carried in ERROR frames.
const (
	ErrParseError       = "PARSE_ERROR"
	ErrNotAuthenticated = "NOT_AUTHENTICATED"
	ErrUnknownMessage   = "UNKNOWN_MESSAGE"
	ErrRateLimited      = "RATE_LIMITED"
	ErrRoomFull         = "ROOM_FULL"
	ErrWebRTCError      = "WEBRTC_ERROR"
	ErrHandlerError     = "HANDLER_ERROR"
)
