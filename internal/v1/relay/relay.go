// Package relay implements the WebRTC offer/answer/ICE relay handlers. The
// server never inspects SDP or candidate payloads beyond their envelope; it
// only decides who receives a forwarded frame and stamps sender identity.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coldwire/ptt-signal/internal/v1/logging"
	"github.com/coldwire/ptt-signal/internal/v1/metrics"
	"github.com/coldwire/ptt-signal/internal/v1/protocol"
	"github.com/coldwire/ptt-signal/internal/v1/room"
	"github.com/coldwire/ptt-signal/internal/v1/types"
	"go.uber.org/zap"
)

// Conn is the minimal connection contract the relay needs to respond to the
// sender directly (e.g. on a gating failure).
type Conn interface {
	types.Connection
}

// Handlers holds the room registry the relay forwards through.
type Handlers struct {
	registry *room.Registry
}

func New(registry *room.Registry) *Handlers {
	return &Handlers{registry: registry}
}

// Offer forwards a WEBRTC_OFFER. Only the current floor holder may send one;
// anyone else gets ERROR{WEBRTC_ERROR} and nothing is forwarded.
func (h *Handlers) Offer(ctx context.Context, conn Conn, raw []byte, now time.Time) {
	var frame protocol.WebRTCOfferFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		sendParseError(conn, now)
		return
	}
	roomID := types.RoomIDType(frame.RoomID)

	if !h.registry.HasFloor(roomID, conn.UserID(), now) {
		conn.Send(protocol.ErrorFrame{
			Type:      protocol.TypeError,
			Timestamp: protocol.Stamp(now),
			Code:      types.ErrWebRTCError,
			Message:   "offer rejected: sender does not hold the floor",
		})
		metrics.RelayFramesDropped.WithLabelValues(protocol.TypeWebRTCOffer).Inc()
		return
	}

	out := protocol.WebRTCOfferOutFrame{
		Type:       protocol.TypeWebRTCOffer,
		Timestamp:  protocol.Stamp(now),
		RoomID:     frame.RoomID,
		SDP:        frame.SDP,
		FromUserID: string(conn.UserID()),
	}
	h.deliver(ctx, roomID, conn.UserID(), frame.TargetUserID, out, protocol.TypeWebRTCOffer)
}

// Answer forwards a WEBRTC_ANSWER directly to its target. No floor check:
// answers are listener responses to the current speaker.
func (h *Handlers) Answer(ctx context.Context, conn Conn, raw []byte, now time.Time) {
	var frame protocol.WebRTCAnswerFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		sendParseError(conn, now)
		return
	}

	out := protocol.WebRTCAnswerOutFrame{
		Type:       protocol.TypeWebRTCAnswer,
		Timestamp:  protocol.Stamp(now),
		RoomID:     frame.RoomID,
		SDP:        frame.SDP,
		FromUserID: string(conn.UserID()),
	}
	h.deliverTargeted(types.RoomIDType(frame.RoomID), frame.TargetUserID, out, protocol.TypeWebRTCAnswer)
}

// ICE forwards a single WEBRTC_ICE candidate, targeted or broadcast exactly
// like Offer, but without a floor check.
func (h *Handlers) ICE(ctx context.Context, conn Conn, raw []byte, now time.Time) {
	var frame protocol.WebRTCICEFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		sendParseError(conn, now)
		return
	}

	out := protocol.WebRTCICEOutFrame{
		Type:          protocol.TypeWebRTCICE,
		Timestamp:     protocol.Stamp(now),
		RoomID:        frame.RoomID,
		Candidate:     frame.Candidate,
		SDPMid:        frame.SDPMid,
		SDPMLineIndex: frame.SDPMLineIndex,
		FromUserID:    string(conn.UserID()),
	}
	h.deliver(ctx, types.RoomIDType(frame.RoomID), conn.UserID(), frame.TargetUserID, out, protocol.TypeWebRTCICE)
}

// ICEBatch forwards a batch of ICE candidates with identical addressing
// rules to a single ICE frame; batching only reduces frame count.
func (h *Handlers) ICEBatch(ctx context.Context, conn Conn, raw []byte, now time.Time) {
	var frame protocol.WebRTCICEBatchFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		sendParseError(conn, now)
		return
	}

	out := protocol.WebRTCICEBatchOutFrame{
		Type:       protocol.TypeWebRTCICEBatch,
		Timestamp:  protocol.Stamp(now),
		RoomID:     frame.RoomID,
		Candidates: frame.Candidates,
		FromUserID: string(conn.UserID()),
	}
	h.deliver(ctx, types.RoomIDType(frame.RoomID), conn.UserID(), frame.TargetUserID, out, protocol.TypeWebRTCICEBatch)
}

// deliver forwards frame to targetUserID if set, otherwise broadcasts to
// every other member of roomID.
func (h *Handlers) deliver(ctx context.Context, roomID types.RoomIDType, fromUserID types.UserIDType, targetUserID string, frame any, kind string) {
	if targetUserID != "" {
		h.deliverTargeted(roomID, targetUserID, frame, kind)
		return
	}
	h.registry.Broadcast(ctx, roomID, frame, fromUserID)
	metrics.RelayFramesForwarded.WithLabelValues(kind).Inc()
}

func (h *Handlers) deliverTargeted(roomID types.RoomIDType, targetUserID string, frame any, kind string) {
	if !h.registry.SendTo(roomID, types.UserIDType(targetUserID), frame) {
		logging.Warn(context.Background(), "relay target not found, dropping",
			zap.String("room_id", string(roomID)), zap.String("target_user_id", targetUserID), zap.String("kind", kind))
		metrics.RelayFramesDropped.WithLabelValues(kind).Inc()
		return
	}
	metrics.RelayFramesForwarded.WithLabelValues(kind).Inc()
}

func sendParseError(conn Conn, now time.Time) {
	conn.Send(protocol.ErrorFrame{
		Type:      protocol.TypeError,
		Timestamp: protocol.Stamp(now),
		Code:      types.ErrParseError,
		Message:   "malformed WebRTC relay frame",
	})
}
