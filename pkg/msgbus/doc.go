// Package msgbus defines the backend-neutral contracts for consuming and
// producing messages.
//
// A MessageBus is converted once into a Stream of IncomingMessage values.
// Each message is acknowledged (Ack), left for redelivery (Nack) or
// permanently rejected (Reject) by the application. A Producer sends one
// message at a time to a destination, with per-call options whose shape is
// chosen by the backend.
//
// Backends live in their own packages (see pkg/kafka) and plug in by
// implementing these interfaces.
package msgbus
