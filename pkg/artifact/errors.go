package artifact

import (
	"errors"
	"fmt"

	"github.com/tarsy-labs/dmp/pkg/security"
)

var (
	// ErrSinkCycle indicates the dependency graph among sink bindings
	// could not be fully ordered (a true cycle or an unresolved
	// reference).
	ErrSinkCycle = errors.New("sink artifact dependencies contain a cycle or unresolved reference")

	// ErrUnresolvedConsume indicates a consume request's token could not
	// be resolved to any producer.
	ErrUnresolvedConsume = errors.New("unresolved artifact consume request")

	// ErrClearanceViolation indicates a consumer's clearance was
	// insufficient for a producer's declared security level.
	ErrClearanceViolation = errors.New("security clearance violation")
)

// PermissionError names the two bindings (or the binding and artifact)
// involved in a clearance violation, for both the dependency-resolution
// check and the execution-time handoff check.
type PermissionError struct {
	Consumer       string
	Producer       string
	ConsumerLevel  security.Level
	ProducerLevel  security.Level
	ArtifactID     string
}

func (e *PermissionError) Error() string {
	if e.ArtifactID != "" {
		return fmt.Sprintf("%v: binding %q (clearance %q) may not receive artifact %q (level %q) from %q",
			ErrClearanceViolation, e.Consumer, e.ConsumerLevel, e.ArtifactID, e.ProducerLevel, e.Producer)
	}
	return fmt.Sprintf("%v: binding %q (clearance %q) may not depend on %q (level %q)",
		ErrClearanceViolation, e.Consumer, e.ConsumerLevel, e.Producer, e.ProducerLevel)
}

func (e *PermissionError) Unwrap() error { return ErrClearanceViolation }

// TopologyError describes a malformed binding declaration or a cycle found
// while ordering the sink dependency graph.
type TopologyError struct {
	Reason string
	Cycle  []string
}

func (e *TopologyError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("%v: %s (involving %v)", ErrSinkCycle, e.Reason, e.Cycle)
	}
	return e.Reason
}

func (e *TopologyError) Unwrap() error {
	if len(e.Cycle) > 0 {
		return ErrSinkCycle
	}
	return nil
}
