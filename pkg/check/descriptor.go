package check

// Descriptor declares what a check instance targets. It is what
// expectation expressions see as "chk", so fields are exported with
// stable names.
type Descriptor struct {
	// Type is the registered check type (e.g. "http").
	Type string

	// Target is the target as given by the user (host:port, URL, domain).
	Target string

	// Host and Port are the resolved connection endpoint, when applicable.
	Host string
	Port int

	// URL is set for HTTP checks.
	URL string

	// Layers lists the protocol layers from innermost to outermost
	// (e.g. ["tcp", "ssl", "http"]).
	Layers []string

	// Options holds the effective option values of the instance.
	Options map[string]any
}
