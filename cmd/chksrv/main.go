// Command chksrv checks a TCP port, TLS endpoint, HTTP(S) resource, DNS
// name or host once, retries on failure, and exits with the verdict.
package main

import (
	"os"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
