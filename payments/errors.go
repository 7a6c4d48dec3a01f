package payments

import (
	"context"
	"errors"
	"fmt"
)

var ErrCircuitOpen = errors.New("payment gateway circuit open")

type GatewayErrorKind int

const (
	// Transient covers timeouts, rate limiting and 5xx responses. Worth
	// retrying later and counted by the circuit breaker.
	Transient GatewayErrorKind = iota + 1
	// Permanent covers declines, fraud blocks and invalid requests.
	Permanent
)

// CodeResourceMissing is the gateway's code for an intent it has no record of.
const CodeResourceMissing = "resource_missing"

func (k GatewayErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

type GatewayError struct {
	Kind GatewayErrorKind
	Op   string
	Code string
	Err  error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s (%s, %s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("gateway %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind == Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func IsPermanent(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Kind == Permanent
}

// IsMissing reports whether the gateway answered that the object does not
// exist. It is the only permanent answer that says anything about a
// payment's status.
func IsMissing(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Kind == Permanent && ge.Code == CodeResourceMissing
}
