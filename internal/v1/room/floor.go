package room

import (
	"time"

	"github.com/coldwire/ptt-signal/internal/v1/metrics"
	"github.com/coldwire/ptt-signal/internal/v1/types"
)

// RequestFloor grants roomID's floor to userID if it's free or expired.
// Returns the resulting grant and whether the request succeeded; on
// failure the returned grant is the one currently held by someone else.
func (r *Registry) RequestFloor(roomID types.RoomIDType, userID types.UserIDType, displayName types.DisplayNameType, now time.Time) (*types.FloorGrant, bool) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.floor != nil && !rm.floor.Expired(now) && rm.floor.HolderUserID != userID {
		metrics.FloorDenials.Inc()
		return rm.floor, false
	}

	grant := &types.FloorGrant{
		HolderUserID:      userID,
		HolderDisplayName: displayName,
		GrantedAt:         now,
		ExpiresAt:         now.Add(rm.floorTTL),
	}
	rm.floor = grant
	metrics.FloorGrants.Inc()
	return grant, true
}

// ReleaseFloor clears roomID's floor if userID currently holds it. Returns
// true if a grant was actually cleared.
func (r *Registry) ReleaseFloor(roomID types.RoomIDType, userID types.UserIDType) bool {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.floor == nil || rm.floor.HolderUserID != userID {
		return false
	}
	rm.floor = nil
	return true
}

// HasFloor reports whether userID currently holds roomID's floor, lazily
// treating an expired grant as absent without mutating state.
func (r *Registry) HasFloor(roomID types.RoomIDType, userID types.UserIDType, now time.Time) bool {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.floor != nil && !rm.floor.Expired(now) && rm.floor.HolderUserID == userID
}

// SweepExpiredFloors clears every room's floor grant that has passed its
// TTL, returning the rooms it changed so the caller can broadcast
// FLOOR_STATE updates. Called periodically by the heartbeat sweep.
func (r *Registry) SweepExpiredFloors(now time.Time) []types.RoomIDType {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	ids := make([]types.RoomIDType, 0, len(r.rooms))
	for id, rm := range r.rooms {
		rooms = append(rooms, rm)
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var changed []types.RoomIDType
	for i, rm := range rooms {
		rm.mu.Lock()
		if rm.floor != nil && rm.floor.Expired(now) {
			rm.floor = nil
			changed = append(changed, ids[i])
			metrics.FloorExpirations.Inc()
		}
		rm.mu.Unlock()
	}
	return changed
}
