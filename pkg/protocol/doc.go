// Package protocol defines the wire model of the tool invocation protocol:
// JSON-RPC 2.0 message variants, the method catalog, capability and
// implementation-info types, the tagged content union, and the initialize
// handshake negotiation. The package performs no I/O; framing and delivery
// belong to the transport and connection packages.
//
// Message classification is strict. A Request carries an id member (a null
// id is still a Request); a Notification has no id member at all; a Response
// carries exactly one of result or error. ParseMessage enforces all three
// invariants on inbound data and the constructors enforce them on outbound
// data.
package protocol
