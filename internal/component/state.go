package component

// State represents the lifecycle state of a component instance.
// Valid transitions:
//
//	Registered  -> Resolving
//	Resolving   -> Constructed
//	Constructed -> Mounted, Unmounting
//	Mounted     -> Updating, Unmounting
//	Updating    -> Mounted
//	Unmounting  -> Destroyed
//	Destroyed   -> (terminal)
type State int

const (
	StateRegistered State = iota
	StateResolving
	StateConstructed
	StateMounted
	StateUpdating
	StateUnmounting
	StateDestroyed
)

var validTransitions = map[State]map[State]bool{
	StateRegistered:  {StateResolving: true},
	StateResolving:   {StateConstructed: true},
	StateConstructed: {StateMounted: true, StateUnmounting: true},
	StateMounted:     {StateUpdating: true, StateUnmounting: true},
	StateUpdating:    {StateMounted: true},
	StateUnmounting:  {StateDestroyed: true},
	StateDestroyed:   {},
}

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateResolving:
		return "resolving"
	case StateConstructed:
		return "constructed"
	case StateMounted:
		return "mounted"
	case StateUpdating:
		return "updating"
	case StateUnmounting:
		return "unmounting"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// IsValid returns true if this is a recognized State value.
func (s State) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal returns true for Destroyed.
func (s State) IsTerminal() bool {
	return s == StateDestroyed
}

// IsLive returns true for states in which an instance is observable in
// the tree: Constructed, Mounted and Updating.
func (s State) IsLive() bool {
	return s == StateConstructed || s == StateMounted || s == StateUpdating
}

// CanTransitionTo returns true if moving from s to target is allowed.
func (s State) CanTransitionTo(target State) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	return allowed[target]
}
