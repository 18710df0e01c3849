package content

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError reports a missing entity, version or contract.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ValidationError reports content failing basic shape checks at draft time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Publishing gate identifiers. A GateViolation names the gate that failed
// so authors can fix the draft and resubmit.
const (
	GateContentShape    = "content_shape"
	GateRulePresence    = "rule_presence"
	GateTargetsResolve  = "targets_resolve"
	GateAcyclicRequires = "acyclic_requires"
)

// GateFailure is one failed publishing check.
type GateFailure struct {
	Gate    string `json:"gate"`
	Message string `json:"message"`
}

// GateViolation carries every failed publishing check, not just the first.
type GateViolation struct {
	VersionID string
	Failures  []GateFailure
}

func (e *GateViolation) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = fmt.Sprintf("%s: %s", f.Gate, f.Message)
	}
	return fmt.Sprintf("publishing gate failed for version %s: %s", e.VersionID, strings.Join(msgs, "; "))
}

// LifecycleError reports a transition attempted from the wrong status or by
// the wrong actor. The violated precondition is stated explicitly; the
// caller must reconcile state before retrying.
type LifecycleError struct {
	Op           string
	VersionID    string
	Precondition string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s %s: precondition failed: %s", e.Op, e.VersionID, e.Precondition)
}

// ConcurrentPublishError is returned to the loser of two concurrent
// approvals for the same entity. Recoverable by retry against fresh state.
type ConcurrentPublishError struct {
	EntityID string
}

func (e *ConcurrentPublishError) Error() string {
	return fmt.Sprintf("concurrent publish for entity %s: another version won the race", e.EntityID)
}

// ConcurrentCompletionError is returned when a completion or upgrade loses
// an optimistic-concurrency race on a contract instance.
type ConcurrentCompletionError struct {
	ContractID string
}

func (e *ConcurrentCompletionError) Error() string {
	return fmt.Sprintf("concurrent modification of contract %s: retry against fresh state", e.ContractID)
}

// ImmutabilityViolation reports an attempt to mutate frozen state: content
// of a post-draft version, pins of a completed contract, or a stored
// version whose content no longer matches its digest. Never applied
// silently.
type ImmutabilityViolation struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ImmutabilityViolation) Error() string {
	return fmt.Sprintf("immutability violation on %s %s: %s", e.Resource, e.ID, e.Reason)
}

// NoPublishedVersionError reports a pin resolution against an entity that
// has never been published.
type NoPublishedVersionError struct {
	EntityID string
}

func (e *NoPublishedVersionError) Error() string {
	return fmt.Sprintf("entity %s has no published version", e.EntityID)
}

// InfrastructureError wraps storage-level faults. It is the only error
// class the persistence boundary retries (with backoff); everything else
// surfaces verbatim.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure during %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed on retry. Only
// infrastructure faults qualify; lifecycle, gate and concurrency errors
// must reach the caller untouched.
func IsTransient(err error) bool {
	var infra *InfrastructureError
	return errors.As(err, &infra)
}
