package gpu

import "errors"

// Sentinel errors for device planning.
var (
	// ErrBadRequest is returned for a non-positive GPU count.
	ErrBadRequest = errors.New("invalid gpu request")

	// ErrNotEnoughDevices is returned when detection reports fewer devices
	// than the manifest requests.
	ErrNotEnoughDevices = errors.New("not enough gpus")

	// ErrBadDeviceList is returned for a malformed explicit device list.
	ErrBadDeviceList = errors.New("invalid device list")

	// ErrDeviceListMismatch is returned when the explicit device list length
	// disagrees with the requested count.
	ErrDeviceListMismatch = errors.New("device list does not match request")
)
