// Package coordinator serializes connect/disconnect/refresh workflows
// against a single selected router target. It owns the target registry,
// the selection, a single-flight busy flag and a human-readable status
// line, derives per-action availability from them, and notifies
// subscribers synchronously on every change.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/rwatch/internal/router"
)

// logEntryCount is how many of the most recent log entries each refresh pulls.
const logEntryCount = 100

// Coordinator drives the connection lifecycle of router targets.
//
// All state transitions happen under one mutex: a gated action checks its
// precondition and flips the busy flag in a single critical section, so two
// callers cannot both pass the connect/refresh gate. Collaborator calls are
// made outside the lock, which keeps the coordinator queryable while an
// operation is in flight.
type Coordinator struct {
	client router.Client
	poller router.Poller
	stats  router.Stats
	logger *logrus.Logger

	mu       sync.Mutex
	registry *orderedmap.OrderedMap[string, *router.Target]
	selected *router.Target
	busy     bool
	status   string
	polling  map[string]bool

	nextSub   uint64
	fieldSubs map[uint64]FieldListener
	availSubs map[uint64]AvailabilityListener
}

// New creates a coordinator over the given collaborators and initial
// targets. The three collaborators are required; the target list may be
// empty. The first target, if any, becomes the selection.
func New(client router.Client, poller router.Poller, stats router.Stats, targets []*router.Target, logger *logrus.Logger) (*Coordinator, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: device-API client", router.ErrMissingCollaborator)
	}
	if poller == nil {
		return nil, fmt.Errorf("%w: poller", router.ErrMissingCollaborator)
	}
	if stats == nil {
		return nil, fmt.Errorf("%w: stats", router.ErrMissingCollaborator)
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &Coordinator{
		client:    client,
		poller:    poller,
		stats:     stats,
		logger:    logger,
		registry:  orderedmap.New[string, *router.Target](),
		status:    "Ready",
		polling:   make(map[string]bool),
		fieldSubs: make(map[uint64]FieldListener),
		availSubs: make(map[uint64]AvailabilityListener),
	}

	for _, t := range targets {
		if _, exists := c.registry.Get(t.ID); exists {
			return nil, fmt.Errorf("%w: %q", router.ErrDuplicateTarget, t.ID)
		}
		c.registry.Set(t.ID, t)
		stats.Track(t)
	}
	if pair := c.registry.Oldest(); pair != nil {
		c.selected = pair.Value
	}

	return c, nil
}

// Subscribe registers a field-change listener and returns its id.
func (c *Coordinator) Subscribe(fn FieldListener) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	c.fieldSubs[c.nextSub] = fn
	return c.nextSub
}

// SubscribeAvailability registers an availability listener and returns its id.
func (c *Coordinator) SubscribeAvailability(fn AvailabilityListener) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	c.availSubs[c.nextSub] = fn
	return c.nextSub
}

// Unsubscribe removes a listener registered by either Subscribe variant.
func (c *Coordinator) Unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fieldSubs, id)
	delete(c.availSubs, id)
}

// Targets returns the registry members in insertion order.
func (c *Coordinator) Targets() []*router.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	targets := make([]*router.Target, 0, c.registry.Len())
	for pair := c.registry.Oldest(); pair != nil; pair = pair.Next() {
		targets = append(targets, pair.Value)
	}
	return targets
}

// Selected returns the selected target, or nil.
func (c *Coordinator) Selected() *router.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Status returns the current status line.
func (c *Coordinator) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Busy reports whether a connect or refresh is in flight.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// CanRemove reports whether RemoveSelected may run now.
func (c *Coordinator) CanRemove() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canRemoveLocked()
}

// CanConnect reports whether Connect may run now.
func (c *Coordinator) CanConnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canConnectLocked()
}

// CanDisconnect reports whether Disconnect may run now.
func (c *Coordinator) CanDisconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canDisconnectLocked()
}

// CanRefresh reports whether Refresh may run now.
func (c *Coordinator) CanRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canRefreshLocked()
}

func (c *Coordinator) canRemoveLocked() bool {
	return c.selected != nil
}

func (c *Coordinator) canConnectLocked() bool {
	return c.selected != nil && !c.busy && c.selected.Status().State != router.StateConnected
}

func (c *Coordinator) canDisconnectLocked() bool {
	return c.selected != nil && !c.busy && c.selected.Status().State == router.StateConnected
}

func (c *Coordinator) canRefreshLocked() bool {
	return c.canDisconnectLocked()
}

func (c *Coordinator) availabilityLocked() [actionCount]bool {
	return [actionCount]bool{
		ActionRemove:     c.canRemoveLocked(),
		ActionConnect:    c.canConnectLocked(),
		ActionDisconnect: c.canDisconnectLocked(),
		ActionRefresh:    c.canRefreshLocked(),
	}
}

// announceLocked captures the listeners and a state snapshot under the
// lock and returns a closure that delivers the notifications. The closure
// must be invoked after the lock is released so listeners can query the
// coordinator from their callbacks.
//
// Selection and busy events always re-announce all four availability
// predicates, even when their boolean value did not change; reannounce
// forces that for actions that mutate a predicate input outside those two
// fields (disconnect flips the selected target's state).
func (c *Coordinator) announceLocked(reannounce bool, fields ...Field) func() {
	snap := Snapshot{Busy: c.busy, Status: c.status}
	if c.selected != nil {
		snap.SelectedID = c.selected.ID
	}

	for _, f := range fields {
		if f == FieldSelection || f == FieldBusy {
			reannounce = true
		}
	}

	var avail [actionCount]bool
	if reannounce {
		avail = c.availabilityLocked()
	}

	fieldSubs := make([]FieldListener, 0, len(c.fieldSubs))
	for _, fn := range c.fieldSubs {
		fieldSubs = append(fieldSubs, fn)
	}
	var availSubs []AvailabilityListener
	if reannounce {
		availSubs = make([]AvailabilityListener, 0, len(c.availSubs))
		for _, fn := range c.availSubs {
			availSubs = append(availSubs, fn)
		}
	}

	return func() {
		for _, fn := range fieldSubs {
			for _, f := range fields {
				fn(Event{Field: f, Snapshot: snap})
			}
		}
		for _, fn := range availSubs {
			for a := Action(0); a < actionCount; a++ {
				fn(a, avail[a])
			}
		}
	}
}

// setStatus updates the status line and notifies. Status-only changes do
// not touch the availability inputs, so no re-announcement happens here.
func (c *Coordinator) setStatus(status string) {
	c.mu.Lock()
	c.status = status
	fire := c.announceLocked(false, FieldStatus)
	c.mu.Unlock()
	fire()
}

// AddTarget creates a target with fixed defaults, appends it to the
// registry and selects it. Always available.
func (c *Coordinator) AddTarget() *router.Target {
	t := router.NewTarget()

	c.mu.Lock()
	c.registry.Set(t.ID, t)
	c.selected = t
	c.status = fmt.Sprintf("Added %s", t.Name)
	fire := c.announceLocked(false, FieldSelection, FieldStatus)
	c.mu.Unlock()

	c.stats.Track(t)
	c.logger.WithFields(logrus.Fields{
		"target":  t.Name,
		"address": t.Address,
	}).Info("Target added")

	fire()
	return t
}

// Select moves the selection to the registry member with the given id.
// Refused while busy: the busy flag refers to the selected target.
func (c *Coordinator) Select(id string) bool {
	c.mu.Lock()
	t, exists := c.registry.Get(id)
	if !exists || c.busy {
		c.mu.Unlock()
		return false
	}
	if c.selected == t {
		c.mu.Unlock()
		return true
	}
	c.selected = t
	fire := c.announceLocked(false, FieldSelection)
	c.mu.Unlock()
	fire()
	return true
}

// RemoveSelected removes the selected target from the registry,
// disconnecting it first if connected. The disconnect is synchronous and
// completes before the target leaves the registry. Selection moves to the
// first remaining target, or clears. No-op when nothing is selected.
func (c *Coordinator) RemoveSelected() bool {
	c.mu.Lock()
	if !c.canRemoveLocked() {
		c.mu.Unlock()
		c.logger.Debug("remove ignored: no target selected")
		return false
	}

	t := c.selected
	if t.Status().State == router.StateConnected {
		c.client.Disconnect(t)
	}
	c.stopPollingLocked(t)

	c.registry.Delete(t.ID)
	c.selected = nil
	if pair := c.registry.Oldest(); pair != nil {
		c.selected = pair.Value
	}
	c.status = fmt.Sprintf("Removed %s", t.Name)
	fire := c.announceLocked(false, FieldSelection, FieldStatus)
	c.mu.Unlock()

	c.stats.Forget(t.ID)
	c.logger.WithField("target", t.Name).Info("Target removed")

	fire()
	return true
}

// Connect connects the selected target and, on success, pulls its four
// data sets (system info, interfaces, leases, latest log entries) in
// order. No-op when unavailable. The returned error reports unexpected
// collaborator failures; a router that simply refused the connection is
// not an error, its reason lands in the status line.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	if !c.canConnectLocked() {
		c.mu.Unlock()
		c.logger.Debug("connect ignored: not available")
		return nil
	}
	t := c.selected
	c.busy = true
	c.status = fmt.Sprintf("Connecting to %s...", t.Name)
	fire := c.announceLocked(false, FieldBusy, FieldStatus)
	c.mu.Unlock()
	fire()

	var opErr error
	ok, err := c.client.Connect(ctx, t)
	switch {
	case err != nil:
		opErr = err
		c.setStatus("Connection error: " + err.Error())
	case !ok:
		c.setStatus("Failed to connect: " + t.Status().Text())
	default:
		c.setStatus("Connected")
		if err := c.refreshData(ctx, t); err != nil {
			opErr = err
			c.setStatus("Connection error: " + err.Error())
		} else {
			c.startPolling(t)
		}
	}

	c.mu.Lock()
	c.busy = false
	fire = c.announceLocked(false, FieldBusy)
	c.mu.Unlock()
	fire()

	if opErr != nil {
		c.logger.WithError(opErr).WithField("target", t.Name).Error("Connect failed")
	}
	return opErr
}

// Disconnect disconnects the selected target. Synchronous and
// non-suspending: the busy flag is never set. No-op when unavailable.
func (c *Coordinator) Disconnect() bool {
	c.mu.Lock()
	if !c.canDisconnectLocked() {
		c.mu.Unlock()
		c.logger.Debug("disconnect ignored: not available")
		return false
	}
	t := c.selected
	c.client.Disconnect(t)
	c.stopPollingLocked(t)
	c.status = "Disconnected"
	// The selected target's state changed, so availability must be
	// re-announced even though only the status field moved.
	fire := c.announceLocked(true, FieldStatus)
	c.mu.Unlock()

	c.logger.WithField("target", t.Name).Info("Disconnected")
	fire()
	return true
}

// Refresh re-pulls the four data sets of the connected selected target.
// No-op when unavailable.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if !c.canRefreshLocked() {
		c.mu.Unlock()
		c.logger.Debug("refresh ignored: not available")
		return nil
	}
	t := c.selected
	c.busy = true
	c.status = fmt.Sprintf("Refreshing %s...", t.Name)
	fire := c.announceLocked(false, FieldBusy, FieldStatus)
	c.mu.Unlock()
	fire()

	err := c.refreshData(ctx, t)
	if err != nil {
		c.setStatus("Refresh error: " + err.Error())
	} else {
		c.setStatus("Refreshed")
	}

	c.mu.Lock()
	c.busy = false
	fire = c.announceLocked(false, FieldBusy)
	c.mu.Unlock()
	fire()

	if err != nil {
		c.logger.WithError(err).WithField("target", t.Name).Error("Refresh failed")
	}
	return err
}

// refreshData pulls the four data sets in a fixed order. Policy:
// fail-fast — the first error aborts the remaining fetches and becomes
// the operation's error; data already written by earlier fetches is kept.
func (c *Coordinator) refreshData(ctx context.Context, t *router.Target) error {
	if err := c.client.FetchSystemInfo(ctx, t); err != nil {
		return fmt.Errorf("system info: %w", err)
	}
	if err := c.client.FetchInterfaces(ctx, t); err != nil {
		return fmt.Errorf("interfaces: %w", err)
	}
	if err := c.client.FetchDHCPLeases(ctx, t); err != nil {
		return fmt.Errorf("dhcp leases: %w", err)
	}
	if err := c.client.FetchLogEntries(ctx, t, logEntryCount); err != nil {
		return fmt.Errorf("log entries: %w", err)
	}
	return nil
}

// startPolling starts the SNMP poller for a freshly connected target.
// Poller failures never affect the connection outcome.
func (c *Coordinator) startPolling(t *router.Target) {
	if !t.SNMP.Enabled {
		return
	}
	if err := c.poller.Start(t); err != nil {
		c.logger.WithError(err).WithField("target", t.Name).Warn("SNMP polling not started")
		return
	}
	c.mu.Lock()
	c.polling[t.ID] = true
	c.mu.Unlock()
}

func (c *Coordinator) stopPollingLocked(t *router.Target) {
	if c.polling[t.ID] {
		c.poller.Stop(t)
		delete(c.polling, t.ID)
	}
}
