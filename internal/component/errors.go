package component

import (
	"errors"
	"fmt"
	"strings"
)

// Engine errors. Callers match them with errors.Is.
var (
	ErrInvalidDefinition   = errors.New("invalid component definition")
	ErrNotFound            = errors.New("component definition not found")
	ErrCycleDetected       = errors.New("cycle detected in dependency graph")
	ErrUnknownDependency   = errors.New("unknown required dependency")
	ErrUnresolvedReference = errors.New("unresolved reference")
	ErrInvalidSelector     = errors.New("invalid selector")
	ErrInvalidTransition   = errors.New("invalid lifecycle transition")
	ErrHookFailed          = errors.New("lifecycle hook failed")
	ErrHookTimeout         = errors.New("lifecycle hook timed out")
	ErrFactoryMissing      = errors.New("constructor not registered")
	ErrInstanceNotFound    = errors.New("instance not found")
	ErrDuplicateKey        = errors.New("duplicate sibling key")
	ErrInvalidShape        = errors.New("invalid shape")
	ErrNotMounted          = errors.New("instance not mounted")
	ErrCancelled           = errors.New("operation cancelled")
)

// ErrorClass groups engine errors by the stage that produced them.
type ErrorClass int

const (
	// ClassRegistration covers duplicate or malformed definitions.
	ClassRegistration ErrorClass = iota
	// ClassResolution covers cycles and unknown dependencies.
	ClassResolution
	// ClassBuild covers constructor failures during a batch build.
	ClassBuild
	// ClassLifecycle covers mount and update hook failures.
	ClassLifecycle
)

// String returns the string representation of the ErrorClass.
func (c ErrorClass) String() string {
	switch c {
	case ClassRegistration:
		return "registration"
	case ClassResolution:
		return "resolution"
	case ClassBuild:
		return "build"
	case ClassLifecycle:
		return "lifecycle"
	default:
		return "unknown"
	}
}

// Error wraps an engine error with its class, the operation that failed
// and the component identity involved.
type Error struct {
	Class    ErrorClass
	Op       string
	Identity string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Identity != "" {
		return fmt.Sprintf("%s %s %q: %v", e.Class, e.Op, e.Identity, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Class, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err. A nil err returns nil. An err that is already an
// *Error of the same class is returned unchanged.
func Wrap(class ErrorClass, op, identity string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Class == class {
		return err
	}
	return &Error{Class: class, Op: op, Identity: identity, Err: err}
}

func classOf(err error) (ErrorClass, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

// IsRegistration reports whether err was produced by registration.
func IsRegistration(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassRegistration
}

// IsResolution reports whether err was produced by dependency resolution.
func IsResolution(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassResolution
}

// IsBuild reports whether err was produced by the instance builder.
func IsBuild(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassBuild
}

// IsLifecycle reports whether err was produced by a lifecycle transition.
func IsLifecycle(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassLifecycle
}

// CycleError reports a dependency cycle. Path starts and ends with the
// same identity, e.g. [a b c a].
type CycleError struct {
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycleDetected, strings.Join(e.Path, " -> "))
}

// Is makes errors.Is(err, ErrCycleDetected) true for cycle errors.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}
