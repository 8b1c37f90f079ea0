package replay

import "errors"

// ErrInvalidOrdering is returned when stored bars are not properly ordered.
var ErrInvalidOrdering = errors.New("bars are not in deterministic order")

// ErrNoSymbols is returned when a feed is requested without symbols.
var ErrNoSymbols = errors.New("no symbols requested")
