package rbac

import "errors"

var (
	ErrInvalidInput    = errors.New("rbac: invalid input")
	ErrNotFound        = errors.New("rbac: not found")
	ErrConflict        = errors.New("rbac: resource conflict")
	ErrUnauthenticated = errors.New("rbac: unauthenticated")
	ErrNoPolicy        = errors.New("rbac: required policy not held")
	ErrOrgScope        = errors.New("rbac: target outside accessible org units")
	ErrEscalation      = errors.New("rbac: privileged policy not dominated")
	ErrUnavailable     = errors.New("rbac: store unavailable")

	// ErrUnknownPolicy marks a gate configured with a policy key that is not
	// in the catalog. This is a deployment bug and must fail loudly.
	ErrUnknownPolicy = errors.New("rbac: unknown policy key")
)
