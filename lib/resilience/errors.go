package resilience

import apperrors "github.com/go-i2p/cachepool/lib/errors"

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = apperrors.ErrCircuitOpen
