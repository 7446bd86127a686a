package graph

import "fmt"

// ViolationKind classifies a usage violation
type ViolationKind string

const (
	// ViolationUninitialized: the coordinator was used before Initialize or after Shutdown
	ViolationUninitialized ViolationKind = "uninitialized"
	// ViolationWrongThread: an object or handle was touched from a thread that does not own it
	ViolationWrongThread ViolationKind = "wrong_thread"
	// ViolationNoContext: the calling thread has no attached context
	ViolationNoContext ViolationKind = "no_context"
	// ViolationMainThread: the operation is never allowed on the main thread
	ViolationMainThread ViolationKind = "main_thread"
	// ViolationOwnership: the object belongs to a different context, or to none
	ViolationOwnership ViolationKind = "ownership"
	// ViolationCrossContext: a relationship would link objects of different contexts
	ViolationCrossContext ViolationKind = "cross_context"
	// ViolationTransient: the operation needs an object that was inserted and committed
	ViolationTransient ViolationKind = "transient"
	// ViolationSchema: unknown entity, attribute or relationship, or a value of the wrong type
	ViolationSchema ViolationKind = "schema"
	// ViolationLifecycle: Initialize called twice, disposed context reattached
	ViolationLifecycle ViolationKind = "lifecycle"
)

// Violation is the panic value for programming errors in callers.
// Violations are not returned as errors and are not meant to be recovered
// outside of tests.
type Violation struct {
	Kind ViolationKind
	Msg  string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("strata usage violation (%s): %s", v.Kind, v.Msg)
}

func violate(kind ViolationKind, format string, args ...interface{}) {
	panic(&Violation{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}
