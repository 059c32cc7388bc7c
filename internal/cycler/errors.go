package cycler

import "errors"

var (
	errNotAnnounced  = errors.New("cycler: finalize called without a matching announce")
	errNoModules     = errors.New("cycler: at least one module is required")
	errWrongState    = errors.New("cycler: operation not valid in the current state")
)
