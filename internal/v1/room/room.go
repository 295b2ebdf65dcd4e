// Package room implements the Room Registry and Floor Controller: the
// authoritative in-memory state for who is in which room and who currently
// holds the floor.
package room

import (
	"context"
	"sync"
	"time"

	"github.com/coldwire/ptt-signal/internal/v1/logging"
	"github.com/coldwire/ptt-signal/internal/v1/metrics"
	"github.com/coldwire/ptt-signal/internal/v1/protocol"
	"github.com/coldwire/ptt-signal/internal/v1/types"
	"go.uber.org/zap"
)

// Room holds the members and floor state for one room. All state is
// guarded by mu; callers never see a half-updated room.
type Room struct {
	mu      sync.RWMutex
	id      types.RoomIDType
	members map[types.UserIDType]types.Connection
	floor   *types.FloorGrant
	floorTTL time.Duration
	bus     types.Bus
}

// Registry owns every live room, keyed by ID. Rooms are created lazily on
// first join and removed as soon as their last member leaves.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[types.RoomIDType]*Room
	floorTTL   time.Duration
	maxMembers int
	bus        types.Bus
}

// NewRegistry builds an empty registry. floorTTL bounds how long a floor
// grant survives without a release; maxMembers caps members per room.
func NewRegistry(floorTTL time.Duration, maxMembers int, bus types.Bus) *Registry {
	return &Registry{
		rooms:      make(map[types.RoomIDType]*Room),
		floorTTL:   floorTTL,
		maxMembers: maxMembers,
		bus:        bus,
	}
}

// ErrRoomFull is returned by Join when a room is already at capacity.
type ErrRoomFull struct{ RoomID types.RoomIDType }

func (e ErrRoomFull) Error() string { return "room is full: " + string(e.RoomID) }

func (r *Registry) getOrCreateLocked(id types.RoomIDType) *Room {
	rm, ok := r.rooms[id]
	if ok {
		return rm
	}
	rm = &Room{
		id:       id,
		members:  make(map[types.UserIDType]types.Connection),
		floorTTL: r.floorTTL,
		bus:      r.bus,
	}
	r.rooms[id] = rm
	metrics.ActiveRooms.Inc()
	return rm
}

// Join adds conn to roomID, creating the room if it doesn't exist yet. If
// another connection for the same user is already a member, it is evicted
// first with CloseReplaced, matching a reconnecting client's expectation
// that the newer connection wins.
func (r *Registry) Join(ctx context.Context, roomID types.RoomIDType, conn types.Connection) ([]types.MemberInfo, *types.FloorGrant, error) {
	r.mu.Lock()
	rm := r.getOrCreateLocked(roomID)
	r.mu.Unlock()

	rm.mu.Lock()
	if existing, ok := rm.members[conn.UserID()]; ok && existing.ID() != conn.ID() {
		logging.Info(ctx, "evicting stale connection for reconnecting user",
			zap.String("user_id", string(conn.UserID())), zap.String("room_id", string(roomID)))
		existing.Close(types.CloseReplaced, "replaced by a new connection")
		r.releaseFloorIfHolderLocked(rm, existing.UserID())
	} else if len(rm.members) >= r.maxMembers {
		rm.mu.Unlock()
		return nil, nil, ErrRoomFull{RoomID: roomID}
	}

	rm.members[conn.UserID()] = conn
	members := rm.snapshotMembersLocked()
	floor := rm.floor
	metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(len(rm.members)))
	rm.mu.Unlock()

	return members, floor, nil
}

// Leave removes conn from roomID. If conn held the floor, it is released and
// the return value reports that so the caller can broadcast FLOOR_STATE. A
// room with no members left is deleted from the registry.
func (r *Registry) Leave(roomID types.RoomIDType, conn types.Connection) bool {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rm.mu.Lock()
	if current, ok := rm.members[conn.UserID()]; ok && current.ID() == conn.ID() {
		delete(rm.members, conn.UserID())
	}
	releasedFloor := rm.floor != nil && rm.floor.HolderUserID == conn.UserID()
	r.releaseFloorIfHolderLocked(rm, conn.UserID())
	empty := len(rm.members) == 0
	metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(len(rm.members)))
	rm.mu.Unlock()

	if empty {
		r.mu.Lock()
		if current, ok := r.rooms[roomID]; ok && current == rm {
			delete(r.rooms, roomID)
			metrics.ActiveRooms.Dec()
			metrics.RoomMembers.DeleteLabelValues(string(roomID))
		}
		r.mu.Unlock()
	}

	return releasedFloor
}

// releaseFloorIfHolderLocked clears rm.floor if it's currently held by
// userID. Caller must hold rm.mu.
func (r *Registry) releaseFloorIfHolderLocked(rm *Room, userID types.UserIDType) {
	if rm.floor != nil && rm.floor.HolderUserID == userID {
		rm.floor = nil
	}
}

// Broadcast sends frame to every member of roomID except skipUserID (pass ""
// to send to everyone), then fans it out over the bus for other instances.
func (r *Registry) Broadcast(ctx context.Context, roomID types.RoomIDType, frame any, skipUserID types.UserIDType) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	rm.mu.RLock()
	for userID, conn := range rm.members {
		if userID == skipUserID {
			continue
		}
		conn.Send(frame)
	}
	rm.mu.RUnlock()

	if r.bus != nil {
		if err := r.bus.Publish(ctx, roomID, frame); err != nil {
			logging.Warn(ctx, "bus publish failed", zap.String("room_id", string(roomID)), zap.Error(err))
		}
	}
}

// SendTo delivers frame directly to targetUserID if they're a member of
// roomID. Returns false if no such member is connected to this instance.
func (r *Registry) SendTo(roomID types.RoomIDType, targetUserID types.UserIDType, frame any) bool {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	conn, ok := rm.members[targetUserID]
	if !ok {
		return false
	}
	conn.Send(frame)
	return true
}

// RoomState returns the current member list and floor grant for roomID.
func (r *Registry) RoomState(roomID types.RoomIDType) ([]types.MemberInfo, *types.FloorGrant, bool) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.snapshotMembersLocked(), rm.floor, true
}

// IsMember reports whether userID is currently a member of roomID.
func (r *Registry) IsMember(roomID types.RoomIDType, userID types.UserIDType) bool {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok = rm.members[userID]
	return ok
}

func (rm *Room) snapshotMembersLocked() []types.MemberInfo {
	out := make([]types.MemberInfo, 0, len(rm.members))
	for userID, conn := range rm.members {
		out = append(out, types.MemberInfo{UserID: userID, DisplayName: conn.DisplayName()})
	}
	return out
}

// RoomCount returns the number of currently active rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ToFloorView converts a FloorGrant to the wire representation used in
// ROOM_STATE and FLOOR_STATE frames.
func ToFloorView(grant *types.FloorGrant, now time.Time) protocol.FloorView {
	if grant == nil || grant.Expired(now) {
		return protocol.FloorView{State: "none"}
	}
	return protocol.FloorView{
		State:             "grant",
		HolderUserID:      string(grant.HolderUserID),
		HolderDisplayName: string(grant.HolderDisplayName),
		ExpiresAt:         protocol.Stamp(grant.ExpiresAt),
	}
}

// ToMemberViews converts a MemberInfo slice to the wire representation.
func ToMemberViews(members []types.MemberInfo) []protocol.MemberView {
	out := make([]protocol.MemberView, 0, len(members))
	for _, m := range members {
		out = append(out, protocol.MemberView{UserID: string(m.UserID), DisplayName: string(m.DisplayName)})
	}
	return out
}
