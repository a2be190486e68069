package playback

import (
	"context"
	"slices"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/llehouerou/waves-connect/internal/dealer"
	"github.com/llehouerou/waves-connect/internal/trackplayback"
)

// mockAPI is a mock implementation of API.
type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) RegisterDevice(ctx context.Context, d trackplayback.Device) (*trackplayback.RegisterResponse, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trackplayback.RegisterResponse), args.Error(1)
}

func (m *mockAPI) PutState(ctx context.Context, deviceID string, payload *trackplayback.StatePayload) (*trackplayback.StateUpdateResponse, error) {
	args := m.Called(ctx, deviceID, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trackplayback.StateUpdateResponse), args.Error(1)
}

func (m *mockAPI) PostStateConflict(ctx context.Context, deviceID string, payload *trackplayback.StatePayload) (*trackplayback.ConflictResponse, error) {
	args := m.Called(ctx, deviceID, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trackplayback.ConflictResponse), args.Error(1)
}

func (m *mockAPI) PutVolume(ctx context.Context, deviceID string, volume int, seq int64) error {
	args := m.Called(ctx, deviceID, volume, seq)
	return args.Error(0)
}

func (m *mockAPI) payloads(method string) []*trackplayback.StatePayload {
	var out []*trackplayback.StatePayload
	for _, c := range m.Calls {
		if c.Method == method {
			out = append(out, c.Arguments.Get(2).(*trackplayback.StatePayload))
		}
	}
	return out
}

// fakeDealer delivers messages synchronously to the registered listener.
// Close clears the listener like the real client; Disconnect keeps it.
type fakeDealer struct {
	mu          sync.Mutex
	listener    dealer.MessageListener
	uris        []string
	handlers    []func()
	closes      int
	disconnects int
}

func (d *fakeDealer) Connect(context.Context) error { return nil }

func (d *fakeDealer) Disconnect() {
	d.mu.Lock()
	d.disconnects++
	d.mu.Unlock()
	d.runCloseHandlers()
}

func (d *fakeDealer) Close() {
	d.mu.Lock()
	d.closes++
	d.listener = nil
	d.uris = nil
	d.mu.Unlock()
	d.runCloseHandlers()
}

func (d *fakeDealer) runCloseHandlers() {
	d.mu.Lock()
	handlers := slices.Clone(d.handlers)
	d.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (d *fakeDealer) OnClose(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, fn)
}

func (d *fakeDealer) AddMessageListener(l dealer.MessageListener, uris ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil {
		return dealer.ErrListenerRegistered
	}
	d.listener = l
	d.uris = uris
	return nil
}

func (d *fakeDealer) RemoveMessageListener(l dealer.MessageListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == l {
		d.listener = nil
	}
}

func (d *fakeDealer) deliver(uri string, headers dealer.Headers, payload []byte) {
	d.mu.Lock()
	l := d.listener
	d.mu.Unlock()
	if l != nil {
		l.OnMessage(uri, headers, payload)
	}
}

func (d *fakeDealer) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *fakeDealer) disconnectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}
