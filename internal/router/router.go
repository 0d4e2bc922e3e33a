// Package router defines the monitored router record and the boundary
// interfaces the lifecycle coordinator depends on: the device-API client,
// the SNMP poller and the statistics sink. Implementations live in
// internal/routerapi, internal/snmppoll and internal/stats.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
)

// ConnState is the connection state of a single target.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the display name of the state.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// ConnStatus pairs a connection state with the failure reason.
// Reason is meaningful only when State is StateFailed.
type ConnStatus struct {
	State  ConnState
	Reason string
}

// Text returns the human-readable status: the failure reason for a failed
// target, the state name otherwise.
func (s ConnStatus) Text() string {
	if s.State == StateFailed && s.Reason != "" {
		return s.Reason
	}
	return s.State.String()
}

// SNMPConfig holds the polling-protocol parameters of a target.
type SNMPConfig struct {
	Enabled   bool
	Community string        `default:"public"`
	Port      uint16        `default:"161"`
	Interval  time.Duration `default:"10s"`
}

// SystemInfo is the /system resource snapshot written by the API client.
type SystemInfo struct {
	Identity    string
	BoardName   string
	Version     string
	Uptime      string
	CPULoad     int
	FreeMemory  uint64
	TotalMemory uint64
}

// Interface is one network interface of the router.
type Interface struct {
	Name       string
	Type       string
	MACAddress string
	Running    bool
	Disabled   bool
	RxBytes    uint64
	TxBytes    uint64
}

// DHCPLease is one entry of the router's address-lease table.
type DHCPLease struct {
	Address    string
	MACAddress string
	Hostname   string
	Server     string
	Dynamic    bool
	ExpiresIn  string
}

// LogEntry is one router log line.
type LogEntry struct {
	Time    string
	Topics  string
	Message string
}

// Target is one monitored router record. Identity (ID) is stable for the
// target's lifetime; two targets are the same iff their IDs match.
//
// The connection status and the fetched data sets are written by the
// collaborators (see Client) and read by everyone else, so they are kept
// behind a mutex. The remaining fields are configuration, set once before
// the target is handed to a coordinator.
type Target struct {
	ID       string
	Name     string
	Address  string `default:"192.168.88.1"`
	Port     uint16 `default:"443"`
	Username string `default:"admin"`
	Password string
	UseTLS   bool
	SNMP     SNMPConfig

	mu         sync.RWMutex
	status     ConnStatus
	system     SystemInfo
	interfaces []Interface
	leases     []DHCPLease
	logEntries []LogEntry
}

// NewTarget creates a target with a fresh unique identity and the fixed
// defaults used by the coordinator's add action.
func NewTarget() *Target {
	t := &Target{}
	defaults.SetDefaults(t)
	t.ID = uuid.NewString()
	t.Name = "new router"
	return t
}

// Equal reports identity equality.
func (t *Target) Equal(other *Target) bool {
	return t != nil && other != nil && t.ID == other.ID
}

// Status returns the current connection status.
func (t *Target) Status() ConnStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// SetStatus replaces the connection status.
func (t *Target) SetStatus(s ConnStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s
}

// SystemInfo returns the last fetched system snapshot.
func (t *Target) SystemInfo() SystemInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.system
}

// SetSystemInfo stores a fetched system snapshot.
func (t *Target) SetSystemInfo(info SystemInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.system = info
}

// Interfaces returns the last fetched interface list.
func (t *Target) Interfaces() []Interface {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.interfaces
}

// SetInterfaces stores a fetched interface list.
func (t *Target) SetInterfaces(ifaces []Interface) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interfaces = ifaces
}

// Leases returns the last fetched address-lease table.
func (t *Target) Leases() []DHCPLease {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.leases
}

// SetLeases stores a fetched address-lease table.
func (t *Target) SetLeases(leases []DHCPLease) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leases = leases
}

// LogEntries returns the last fetched log entries, newest last.
func (t *Target) LogEntries() []LogEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.logEntries
}

// SetLogEntries stores fetched log entries.
func (t *Target) SetLogEntries(entries []LogEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logEntries = entries
}

// Client is the device-API collaborator. Implementations are trusted to
// mutate only the given target's own status/data fields, never registry
// membership.
//
// Connect reports false when the router rejected or did not answer the
// connection attempt; in that case the reason is recorded in the target's
// own status. An error return is reserved for unexpected failures.
type Client interface {
	Connect(ctx context.Context, t *Target) (bool, error)
	// Disconnect is synchronous and idempotent.
	Disconnect(t *Target)

	FetchSystemInfo(ctx context.Context, t *Target) error
	FetchInterfaces(ctx context.Context, t *Target) error
	FetchDHCPLeases(ctx context.Context, t *Target) error
	FetchLogEntries(ctx context.Context, t *Target, count int) error
}

// Poller is the polling-protocol collaborator. Start is idempotent per
// target; Stop on a target that was never started is a no-op.
type Poller interface {
	Start(t *Target) error
	Stop(t *Target)
}

// Stats is the statistics collaborator: it is told which targets exist so
// it can maintain per-target series.
type Stats interface {
	Track(t *Target)
	Forget(id string)
}

// Construction errors.
var (
	ErrMissingCollaborator = errors.New("missing required collaborator")
	ErrDuplicateTarget     = errors.New("duplicate target id")
)
