package main

import (
	"github.com/kylerisse/chksrv/pkg/check"
	"github.com/kylerisse/chksrv/pkg/check/dns"
	chkhttp "github.com/kylerisse/chksrv/pkg/check/http"
	"github.com/kylerisse/chksrv/pkg/check/ping"
	"github.com/kylerisse/chksrv/pkg/check/tcp"
	"github.com/kylerisse/chksrv/pkg/check/tls"
	"github.com/sirupsen/logrus"
)

type checkType struct {
	name  string
	arg   string
	short string
}

var checkTypes = []checkType{
	{tcp.TypeName, "HOST:PORT", "Connect to a TCP port"},
	{tls.TypeName, "HOST:PORT", "Connect to a TCP port and complete a TLS handshake"},
	{chkhttp.TypeName, "URL", "Request an HTTP or HTTPS URL"},
	{dns.TypeName, "NAME", "Query a DNS server for a name"},
	{ping.TypeName, "HOST", "Ping a host with the system ping command"},
}

// newRegistry registers the factory of every check type. The factories
// pass logger down to the check and all of its layers.
func newRegistry(logger logrus.FieldLogger) *check.Registry {
	r := check.NewRegistry()
	r.Register(tcp.TypeName, tcp.Factory(logger))
	r.Register(tls.TypeName, tls.Factory(logger))
	r.Register(chkhttp.TypeName, chkhttp.Factory(logger))
	r.Register(dns.TypeName, dns.Factory(logger))
	r.Register(ping.TypeName, ping.Factory(logger))
	return r
}
