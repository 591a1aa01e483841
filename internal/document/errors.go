package document

import "errors"

// ErrUnknownPing is returned by SetTag when the referenced instant is
// not a member of the ping set (§4.2: "fails UnknownPing if instant
// not in pings").
var ErrUnknownPing = errors.New("document: tag references an unknown ping")

// ErrInvalidRate is returned by SetMinutesPerPing when n <= 0 (§4.2:
// "fails InvalidRate if n <= 0").
var ErrInvalidRate = errors.New("document: minutes-per-ping must be a positive integer")
