// Package router implements the Message Router: it parses each inbound
// frame, enforces the authenticated-first rule, and dispatches to the room
// registry, floor controller, or relay handlers.
package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coldwire/ptt-signal/internal/v1/logging"
	"github.com/coldwire/ptt-signal/internal/v1/metrics"
	"github.com/coldwire/ptt-signal/internal/v1/protocol"
	"github.com/coldwire/ptt-signal/internal/v1/relay"
	"github.com/coldwire/ptt-signal/internal/v1/room"
	"github.com/coldwire/ptt-signal/internal/v1/types"
	"go.uber.org/zap"
)

// Conn is the behavior the router needs from a connection beyond what
// types.Connection already provides: authentication state and the joined
// room cache described by the Connection data model.
type Conn interface {
	types.Connection
	Authenticated() bool
	SetPrincipal(p types.Principal)
	JoinedRooms() []types.RoomIDType
	AddRoom(id types.RoomIDType)
	RemoveRoom(id types.RoomIDType)
	CheckRate() bool
}

// Router dispatches inbound frames for every connection in the system. A
// single Router instance is shared process-wide; it holds no per-connection
// state.
type Router struct {
	registry *room.Registry
	verifier types.Verifier
	relay    *relay.Handlers
}

func New(registry *room.Registry, verifier types.Verifier, relayHandlers *relay.Handlers) *Router {
	return &Router{registry: registry, verifier: verifier, relay: relayHandlers}
}

// HandleFrame decodes and dispatches one inbound frame. now is passed in so
// callers (and tests) control the clock rather than the router reaching for
// time.Now() directly.
func (r *Router) HandleFrame(ctx context.Context, conn Conn, raw []byte, now time.Time) {
	start := now
	msgType, err := protocol.Peek(raw)
	if err != nil {
		r.recordOutcome(msgType, "parse_error", start)
		r.sendError(conn, now, types.ErrParseError, "malformed frame")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			logging.Error(ctx, "handler panic", zap.String("type", msgType), zap.Any("panic", rec))
			r.recordOutcome(msgType, "handler_error", start)
			r.sendError(conn, now, types.ErrHandlerError, "internal handler error")
		}
	}()

	if !conn.Authenticated() && msgType != protocol.TypeAuth {
		r.recordOutcome(msgType, "not_authenticated", start)
		r.sendError(conn, now, types.ErrNotAuthenticated, "AUTH required before any other frame")
		return
	}

	if !conn.CheckRate() {
		r.recordOutcome(msgType, "rate_limited", start)
		r.sendError(conn, now, types.ErrRateLimited, "frame rate limit exceeded")
		return
	}

	switch msgType {
	case protocol.TypeAuth:
		r.handleAuth(ctx, conn, raw, now)
	case protocol.TypePing:
		conn.Send(protocol.PongFrame{Type: protocol.TypePong, Timestamp: protocol.Stamp(now)})
	case protocol.TypeJoinRoom:
		r.handleJoinRoom(ctx, conn, raw, now)
	case protocol.TypeLeaveRoom:
		r.handleLeaveRoom(ctx, conn, raw, now)
	case protocol.TypeRequestFloor:
		r.handleRequestFloor(conn, raw, now)
	case protocol.TypeReleaseFloor:
		r.handleReleaseFloor(conn, raw, now)
	case protocol.TypeWebRTCOffer:
		r.relay.Offer(ctx, conn, raw, now)
	case protocol.TypeWebRTCAnswer:
		r.relay.Answer(ctx, conn, raw, now)
	case protocol.TypeWebRTCICE:
		r.relay.ICE(ctx, conn, raw, now)
	case protocol.TypeWebRTCICEBatch:
		r.relay.ICEBatch(ctx, conn, raw, now)
	default:
		r.recordOutcome(msgType, "unknown", start)
		r.sendError(conn, now, types.ErrUnknownMessage, "unrecognized message type")
		return
	}

	r.recordOutcome(msgType, "ok", start)
}

func (r *Router) recordOutcome(msgType, status string, start time.Time) {
	if msgType == "" {
		msgType = "unknown"
	}
	metrics.FramesProcessed.WithLabelValues(msgType, status).Inc()
	metrics.FrameProcessingDuration.WithLabelValues(msgType).Observe(time.Since(start).Seconds())
}

func (r *Router) sendError(conn Conn, now time.Time, code, message string) {
	conn.Send(protocol.ErrorFrame{
		Type:      protocol.TypeError,
		Timestamp: protocol.Stamp(now),
		Code:      code,
		Message:   message,
	})
}

func (r *Router) handleAuth(ctx context.Context, conn Conn, raw []byte, now time.Time) {
	var frame protocol.AuthFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		metrics.AuthOutcomes.WithLabelValues("failed").Inc()
		r.sendError(conn, now, types.ErrParseError, "malformed AUTH frame")
		conn.Close(types.CloseAuthFailed, "malformed AUTH frame")
		return
	}

	principal, err := r.verifier.Verify(ctx, frame.Token, frame.DisplayName)
	if err != nil {
		metrics.AuthOutcomes.WithLabelValues("failed").Inc()
		conn.Send(protocol.AuthFailedFrame{Type: protocol.TypeAuthFailed, Timestamp: protocol.Stamp(now), Reason: err.Error()})
		conn.Close(types.CloseAuthFailed, "authentication failed")
		return
	}

	conn.SetPrincipal(principal)
	metrics.AuthOutcomes.WithLabelValues("success").Inc()
	conn.Send(protocol.AuthSuccessFrame{
		Type:        protocol.TypeAuthSuccess,
		Timestamp:   protocol.Stamp(now),
		UserID:      string(principal.UserID),
		DisplayName: string(principal.DisplayName),
		PhotoURL:    principal.PhotoURL,
	})
}

func (r *Router) handleJoinRoom(ctx context.Context, conn Conn, raw []byte, now time.Time) {
	var frame protocol.JoinRoomFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.sendError(conn, now, types.ErrParseError, "malformed JOIN_ROOM frame")
		return
	}
	roomID := types.RoomIDType(frame.RoomID)

	members, floor, err := r.registry.Join(ctx, roomID, conn)
	if err != nil {
		logging.Warn(ctx, "join rejected", zap.String("room_id", frame.RoomID), zap.Error(err))
		r.sendError(conn, now, types.ErrRoomFull, "room is full")
		return
	}
	conn.AddRoom(roomID)

	conn.Send(protocol.RoomStateFrame{
		Type:      protocol.TypeRoomState,
		Timestamp: protocol.Stamp(now),
		RoomID:    frame.RoomID,
		Members:   room.ToMemberViews(members),
		Floor:     floorViewPtr(room.ToFloorView(floor, now)),
	})

	r.registry.Broadcast(ctx, roomID, protocol.UserJoinedFrame{
		Type:        protocol.TypeUserJoined,
		Timestamp:   protocol.Stamp(now),
		RoomID:      frame.RoomID,
		UserID:      string(conn.UserID()),
		DisplayName: string(conn.DisplayName()),
	}, conn.UserID())
}

func floorViewPtr(v protocol.FloorView) *protocol.FloorView {
	return &v
}

func (r *Router) handleLeaveRoom(ctx context.Context, conn Conn, raw []byte, now time.Time) {
	var frame protocol.LeaveRoomFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.sendError(conn, now, types.ErrParseError, "malformed LEAVE_ROOM frame")
		return
	}
	roomID := types.RoomIDType(frame.RoomID)

	releasedFloor := r.registry.Leave(roomID, conn)
	conn.RemoveRoom(roomID)

	r.registry.Broadcast(ctx, roomID, protocol.UserLeftFrame{
		Type:      protocol.TypeUserLeft,
		Timestamp: protocol.Stamp(now),
		RoomID:    frame.RoomID,
		UserID:    string(conn.UserID()),
	}, "")

	if releasedFloor {
		r.registry.Broadcast(ctx, roomID, protocol.FloorStateFrame{
			Type:      protocol.TypeFloorState,
			Timestamp: protocol.Stamp(now),
			RoomID:    frame.RoomID,
			State:     room.ToFloorView(nil, now),
		}, "")
	}
}

func (r *Router) handleRequestFloor(conn Conn, raw []byte, now time.Time) {
	var frame protocol.RequestFloorFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.sendError(conn, now, types.ErrParseError, "malformed REQUEST_FLOOR frame")
		return
	}
	roomID := types.RoomIDType(frame.RoomID)
	if !r.registry.IsMember(roomID, conn.UserID()) {
		r.sendError(conn, now, types.ErrHandlerError, "not a member of this room")
		return
	}

	grant, granted := r.registry.RequestFloor(roomID, conn.UserID(), conn.DisplayName(), now)
	stateFrame := protocol.FloorStateFrame{
		Type:      protocol.TypeFloorState,
		Timestamp: protocol.Stamp(now),
		RoomID:    frame.RoomID,
		State:     room.ToFloorView(grant, now),
	}

	if granted {
		r.registry.Broadcast(context.Background(), roomID, stateFrame, "")
		return
	}
	// Denied: respond only to the requester, reflecting who currently holds
	// the floor. No broadcast per the floor controller's contract.
	conn.Send(stateFrame)
}

func (r *Router) handleReleaseFloor(conn Conn, raw []byte, now time.Time) {
	var frame protocol.ReleaseFloorFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.sendError(conn, now, types.ErrParseError, "malformed RELEASE_FLOOR frame")
		return
	}
	roomID := types.RoomIDType(frame.RoomID)

	if !r.registry.ReleaseFloor(roomID, conn.UserID()) {
		return
	}

	r.registry.Broadcast(context.Background(), roomID, protocol.FloorStateFrame{
		Type:      protocol.TypeFloorState,
		Timestamp: protocol.Stamp(now),
		RoomID:    frame.RoomID,
		State:     room.ToFloorView(nil, now),
	}, "")
}

// Disconnect unwinds every room a connection joined, releasing its floor
// grant along the way. Called once by transport.Connection.Close.
func (r *Router) Disconnect(conn Conn) {
	now := time.Now()
	for _, roomID := range conn.JoinedRooms() {
		releasedFloor := r.registry.Leave(roomID, conn)
		r.registry.Broadcast(context.Background(), roomID, protocol.UserLeftFrame{
			Type:      protocol.TypeUserLeft,
			Timestamp: protocol.Stamp(now),
			RoomID:    string(roomID),
			UserID:    string(conn.UserID()),
		}, "")

		if releasedFloor {
			r.registry.Broadcast(context.Background(), roomID, protocol.FloorStateFrame{
				Type:      protocol.TypeFloorState,
				Timestamp: protocol.Stamp(now),
				RoomID:    string(roomID),
				State:     room.ToFloorView(nil, now),
			}, "")
		}
	}
}
