package shipments

import "errors"

var (
	// ErrShipmentNotFound is returned when a referenced shipment doesn't exist.
	ErrShipmentNotFound = errors.New("shipment not found")

	// ErrAlreadyReceived is returned when marking a delivered shipment
	// received again. Layers are created exactly once per shipment.
	ErrAlreadyReceived = errors.New("shipment already received")

	// ErrNoReceivedUnits is returned when a shipment has no units to
	// receive (empty, or every line arrived with zero units).
	ErrNoReceivedUnits = errors.New("shipment has no received units")

	// ErrInvalidShipment is returned for malformed shipment input
	// (missing tracking number, negative fees, bad status).
	ErrInvalidShipment = errors.New("invalid shipment")
)
