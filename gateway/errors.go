package gateway

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a gateway failure. The classification happens once, here,
// at the store boundary; callers branch on Kind instead of sniffing error
// strings.
type Kind int

const (
	// Transient covers network and unclassified store failures. Safe to retry.
	Transient Kind = iota
	// PermissionDenied means the store's security rules rejected the operation.
	PermissionDenied
	// NotFound means the addressed document does not exist.
	NotFound
	// Conflict means the operation violates current state, for example
	// responding to an invitation that was already responded to.
	Conflict
)

func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "permission denied"
	case NotFound:
		return "not found"
	case Conflict:
		return "conflict"
	}
	return "transient"
}

// Error is a kinded gateway error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a kinded error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Transient.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return Transient
}

// IsPermissionDenied reports whether err is a PermissionDenied gateway error.
func IsPermissionDenied(err error) bool {
	return err != nil && KindOf(err) == PermissionDenied
}

// IsNotFound reports whether err is a NotFound gateway error.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == NotFound
}

// classify wraps a raw store error with the Kind derived from its grpc
// status code.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return E(PermissionDenied, op, err)
	case codes.NotFound:
		return E(NotFound, op, err)
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition:
		return E(Conflict, op, err)
	}
	return E(Transient, op, err)
}
