package coordinator

import "fmt"

// Field identifies which observable coordinator field changed.
type Field int

const (
	FieldSelection Field = iota
	FieldBusy
	FieldStatus
)

// String returns the field name.
func (f Field) String() string {
	switch f {
	case FieldSelection:
		return "selection"
	case FieldBusy:
		return "busy"
	case FieldStatus:
		return "status"
	default:
		return fmt.Sprintf("Field(%d)", int(f))
	}
}

// Action identifies one of the four gated actions.
type Action int

const (
	ActionRemove Action = iota
	ActionConnect
	ActionDisconnect
	ActionRefresh

	actionCount = 4
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionRemove:
		return "remove"
	case ActionConnect:
		return "connect"
	case ActionDisconnect:
		return "disconnect"
	case ActionRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Snapshot is the observable coordinator state captured at notification
// time, so listeners never need to call back into the coordinator.
type Snapshot struct {
	SelectedID string // empty when nothing is selected
	Busy       bool
	Status     string
}

// Event is delivered to field listeners on every mutation of selection,
// busy flag or status message.
type Event struct {
	Field    Field
	Snapshot Snapshot
}

// FieldListener receives field-change events.
type FieldListener func(Event)

// AvailabilityListener receives per-action availability announcements.
// It may be invoked with an unchanged value; listeners must be idempotent.
type AvailabilityListener func(Action, bool)
