package widgetauth

// State is the lifecycle stage of a Manager.
type State int32

const (
	// StateUninitialized holds no token and runs nothing.
	StateUninitialized State = iota
	// StateMinting is exchanging the owner token for a first token.
	StateMinting
	// StateActive holds a token and has a refresh timer armed.
	StateActive
	// StateRefreshing is running the refresh cycle (refresh, then fallback mint).
	StateRefreshing
	// StateBackoff failed a refresh cycle and waits to retry it.
	StateBackoff
	// StateDestroyed is terminal.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateMinting:
		return "minting"
	case StateActive:
		return "active"
	case StateRefreshing:
		return "refreshing"
	case StateBackoff:
		return "backoff"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}
