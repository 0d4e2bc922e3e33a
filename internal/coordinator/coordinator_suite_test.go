package coordinator_test

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/rwatch/internal/coordinator"
	"github.com/srg/rwatch/internal/router"
)

// fakeClient is a scripted device-API collaborator. It records every call
// in order and mimics the real client's contract: connection outcomes are
// written into the target's own status.
type fakeClient struct {
	mu sync.Mutex

	connectOK  bool
	connectErr error
	failReason string
	fetchErrs  map[string]error
	blockCh    chan struct{} // when set, Connect blocks until it is closed

	calls       []string
	disconnects int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		connectOK: true,
		fetchErrs: make(map[string]error),
	}
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) Connect(_ context.Context, t *router.Target) (bool, error) {
	f.record("connect")
	t.SetStatus(router.ConnStatus{State: router.StateConnecting})
	if f.blockCh != nil {
		<-f.blockCh
	}
	if f.connectErr != nil {
		t.SetStatus(router.ConnStatus{State: router.StateFailed, Reason: f.connectErr.Error()})
		return false, f.connectErr
	}
	if !f.connectOK {
		t.SetStatus(router.ConnStatus{State: router.StateFailed, Reason: f.failReason})
		return false, nil
	}
	t.SetStatus(router.ConnStatus{State: router.StateConnected})
	return true, nil
}

func (f *fakeClient) Disconnect(t *router.Target) {
	f.record("disconnect")
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	t.SetStatus(router.ConnStatus{State: router.StateDisconnected})
}

func (f *fakeClient) FetchSystemInfo(context.Context, *router.Target) error {
	f.record("system-info")
	return f.fetchErrs["system-info"]
}

func (f *fakeClient) FetchInterfaces(context.Context, *router.Target) error {
	f.record("interfaces")
	return f.fetchErrs["interfaces"]
}

func (f *fakeClient) FetchDHCPLeases(context.Context, *router.Target) error {
	f.record("leases")
	return f.fetchErrs["leases"]
}

func (f *fakeClient) FetchLogEntries(_ context.Context, _ *router.Target, count int) error {
	f.record(fmt.Sprintf("logs:%d", count))
	return f.fetchErrs["logs"]
}

// fakePoller counts Start/Stop per target id.
type fakePoller struct {
	mu      sync.Mutex
	started map[string]int
	stopped map[string]int
	failErr error
}

func newFakePoller() *fakePoller {
	return &fakePoller{
		started: make(map[string]int),
		stopped: make(map[string]int),
	}
}

func (f *fakePoller) Start(t *router.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.started[t.ID]++
	return nil
}

func (f *fakePoller) Stop(t *router.Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped[t.ID]++
}

// fakeStats records tracked and forgotten target ids.
type fakeStats struct {
	mu        sync.Mutex
	tracked   []string
	forgotten []string
}

func newFakeStats() *fakeStats {
	return &fakeStats{}
}

func (f *fakeStats) Track(t *router.Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, t.ID)
}

func (f *fakeStats) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, id)
}

// availNote is one availability announcement as seen by a listener.
type availNote struct {
	action coordinator.Action
	ok     bool
}

// recorder captures field events and availability announcements.
type recorder struct {
	mu     sync.Mutex
	events []coordinator.Event
	avails []availNote
}

func (r *recorder) attach(c *coordinator.Coordinator) {
	c.Subscribe(func(ev coordinator.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	})
	c.SubscribeAvailability(func(a coordinator.Action, ok bool) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.avails = append(r.avails, availNote{action: a, ok: ok})
	})
}

func (r *recorder) fieldEvents(f coordinator.Field) []coordinator.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []coordinator.Event
	for _, ev := range r.events {
		if ev.Field == f {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) availCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.avails)
}

func (r *recorder) lastAvailability() map[coordinator.Action]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[coordinator.Action]bool)
	for _, n := range r.avails {
		out[n.action] = n.ok
	}
	return out
}

// CoordinatorSuite wires fresh fakes for every test.
type CoordinatorSuite struct {
	suite.Suite

	client *fakeClient
	poller *fakePoller
	stats  *fakeStats
	logger *logrus.Logger
}

func (s *CoordinatorSuite) SetupTest() {
	s.client = newFakeClient()
	s.poller = newFakePoller()
	s.stats = newFakeStats()
	s.logger = logrus.New()
	s.logger.SetOutput(io.Discard)
}

func (s *CoordinatorSuite) newCoordinator(targets ...*router.Target) *coordinator.Coordinator {
	c, err := coordinator.New(s.client, s.poller, s.stats, targets, s.logger)
	s.Require().NoError(err)
	return c
}

// makeTarget builds a named, default-configured target.
func makeTarget(name string) *router.Target {
	t := router.NewTarget()
	t.Name = name
	return t
}

// makeConnectedTarget builds a target already in the Connected state.
func makeConnectedTarget(name string) *router.Target {
	t := makeTarget(name)
	t.SetStatus(router.ConnStatus{State: router.StateConnected})
	return t
}
