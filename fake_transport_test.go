package nimbus

import (
	"context"
	"sync"
	"sync/atomic"
)

type subscribeResult struct {
	envelope *SubscribeEnvelope
	status   *Status
	err      error
}

// fakeTransport is a hand-rolled Transport double: Subscribe blocks on a
// channel the test feeds one canned response at a time, so the test fully
// controls how many long-poll cycles the loop runs before it's torn down.
type fakeTransport struct {
	subscribeResponses chan subscribeResult
	heartbeatResp      *Status
	heartbeatErr       error
	leaveResp          *Status
	leaveErr           error
	probeErr           error

	subscribeCalls int32
	heartbeatCalls int32
	leaveCalls     int32
	probeCalls     int32

	mu               sync.Mutex
	lastLeaveChannels []string
	lastLeaveGroups   []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subscribeResponses: make(chan subscribeResult),
		heartbeatResp:      &Status{Category: CategoryAcknowledgment},
		leaveResp:          &Status{Category: CategoryAcknowledgment},
	}
}

func (f *fakeTransport) push(r subscribeResult) {
	f.subscribeResponses <- r
}

func (f *fakeTransport) Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeEnvelope, *Status, error) {
	atomic.AddInt32(&f.subscribeCalls, 1)
	select {
	case r := <-f.subscribeResponses:
		return r.envelope, r.status, r.err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (f *fakeTransport) Heartbeat(ctx context.Context, channels, groups []string) (*Status, error) {
	atomic.AddInt32(&f.heartbeatCalls, 1)
	return f.heartbeatResp, f.heartbeatErr
}

func (f *fakeTransport) Leave(ctx context.Context, channels, groups []string) (*Status, error) {
	atomic.AddInt32(&f.leaveCalls, 1)
	f.mu.Lock()
	f.lastLeaveChannels = append([]string(nil), channels...)
	f.lastLeaveGroups = append([]string(nil), groups...)
	f.mu.Unlock()
	return f.leaveResp, f.leaveErr
}

func (f *fakeTransport) lastLeaveRequest() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastLeaveChannels, f.lastLeaveGroups
}

func (f *fakeTransport) Probe(ctx context.Context) error {
	atomic.AddInt32(&f.probeCalls, 1)
	return f.probeErr
}

func (f *fakeTransport) subscribeCallCount() int32 { return atomic.LoadInt32(&f.subscribeCalls) }
func (f *fakeTransport) heartbeatCallCount() int32 { return atomic.LoadInt32(&f.heartbeatCalls) }
func (f *fakeTransport) leaveCallCount() int32     { return atomic.LoadInt32(&f.leaveCalls) }
