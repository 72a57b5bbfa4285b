// Package check defines the core interfaces and types for service checks.
//
// A Check represents a single probe that can be executed against a target.
// Different check types (TCP, TLS, HTTP, DNS, ping) implement the Check
// interface with their own logic and configuration.
//
// Checks record everything they observe into a Results set: a flat map
// of dotted keys such as "tcp.success" or "http.resp.status". Every layer
// writes a "<layer>.success" flag plus timings, and the outermost check
// writes the overall "success" flag.
//
// Connection-oriented checks also implement Layer, which lets one check
// establish its connection on top of another's: TLS over TCP, and HTTP
// over TLS or TCP.
//
// The Registry provides type discovery, allowing check types to be
// registered by name and instantiated from a target and parameters.
package check

import (
	"context"
	"net"
)

// Check is the interface that all check types must implement.
type Check interface {
	// Type returns the registered name of this check type (e.g. "tcp", "http").
	Type() string

	// Describe returns what this check instance targets.
	Describe() Descriptor

	// Run connects, records observations and tears the connection down.
	// Every call returns a fresh Results set; nothing from a previous call
	// is carried over. Failures are reported through the "success" keys
	// rather than as errors.
	Run(ctx context.Context) Results
}

// Layer is a Check whose connection can carry another protocol.
type Layer interface {
	Check

	// Connect establishes the layer's connection and records its
	// observations into res. It returns nil when the layer failed; the
	// reason is available in res.
	Connect(ctx context.Context, res Results) net.Conn

	// Disconnect releases a connection returned by Connect, recording any
	// teardown observations into res. A nil conn is a no-op.
	Disconnect(conn net.Conn, res Results)
}
