// Package errs defines the tagged error variant used across the server,
// replacing the exception-chain idiom of the original implementation with
// an explicit, inspectable error value (see DESIGN.md, re-architecture notes).
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way clients and operators need to react to it.
type Kind int

const (
	// KindInternal marks an invariant violation. Logged with context; callers
	// that own durable state should treat it as fatal.
	KindInternal Kind = iota
	// KindInvalidParams marks a malformed request (bad hex, bad address,
	// name regex mismatch, negative offset, ...).
	KindInvalidParams
	// KindNotFound marks a request for data the server does not have.
	KindNotFound
	// KindTimeout marks a request that exceeded its deadline.
	KindTimeout
	// KindRateLimited marks a request rejected by a DoS limit.
	KindRateLimited
	// KindDaemonUnavailable marks a full-node RPC failure that survived
	// retry/backoff.
	KindDaemonUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParams:
		return "invalid_params"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindDaemonUnavailable:
		return "daemon_unavailable"
	default:
		return "internal"
	}
}

// RPCCode returns the stable JSON-RPC numeric error code for the kind.
func (k Kind) RPCCode() int {
	switch k {
	case KindInvalidParams:
		return -32602
	case KindNotFound:
		return -32004
	case KindTimeout:
		return -32005
	case KindRateLimited:
		return -32001
	case KindDaemonUnavailable:
		return -32002
	default:
		return -32603
	}
}

// E is the tagged error type: a kind, free-form context, and an optional
// wrapped cause. It implements errors.Is/errors.As via Unwrap and Is.
type E struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		if e.Context != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Context != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return e.Kind.String()
}

func (e *E) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errs.New(KindNotFound, "", nil)) match on Kind alone.
func (e *E) Is(target error) bool {
	var t *E
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds a tagged error.
func New(kind Kind, context string, cause error) *E {
	return &E{Kind: kind, Context: context, Err: cause}
}

// Wrap attaches context to an existing error without losing its kind, if any.
func Wrap(context string, err error) error {
	if err == nil {
		return nil
	}
	var e *E
	if errors.As(err, &e) {
		return &E{Kind: e.Kind, Context: context, Err: err}
	}
	return &E{Kind: KindInternal, Context: context, Err: err}
}

// KindOf extracts the Kind of err, defaulting to KindInternal for plain errors.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
