package room

import (
	"sync"

	"github.com/coldwire/ptt-signal/internal/v1/types"
)

// fakeConn is a minimal types.Connection used across this package's tests.
type fakeConn struct {
	id          types.ConnIDType
	userID      types.UserIDType
	displayName types.DisplayNameType

	mu        sync.Mutex
	sent      []any
	closed    bool
	closeCode int
}

func newFakeConn(id, userID, displayName string) *fakeConn {
	return &fakeConn{
		id:          types.ConnIDType(id),
		userID:      types.UserIDType(userID),
		displayName: types.DisplayNameType(displayName),
	}
}

func (f *fakeConn) ID() types.ConnIDType                { return f.id }
func (f *fakeConn) UserID() types.UserIDType             { return f.userID }
func (f *fakeConn) DisplayName() types.DisplayNameType   { return f.displayName }

func (f *fakeConn) Send(frame any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
}

func (f *fakeConn) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
