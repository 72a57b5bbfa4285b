package http

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/kylerisse/chksrv/pkg/check"
	"github.com/kylerisse/chksrv/pkg/option"
	"github.com/sirupsen/logrus"
)

func newCheck(t *testing.T, rawURL string, params map[string]any) *Check {
	t.Helper()
	if params == nil {
		params = map[string]any{}
	}
	params["tcp.ip_version"] = "force4"
	chk, err := New(rawURL, option.New(Defaults, params))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return chk
}

func TestNew_ParseURL(t *testing.T) {
	cases := []struct {
		url    string
		host   string
		port   int
		useTLS bool
	}{
		{"http://example.com/", "example.com", 80, false},
		{"https://example.com/status", "example.com", 443, true},
		{"HTTPS://example.com:8443", "example.com", 8443, true},
		{"http://[::1]:8080/x?y=1", "::1", 8080, false},
	}
	for _, tc := range cases {
		chk, err := New(tc.url, nil)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.url, err)
			continue
		}
		if chk.host != tc.host || chk.port != tc.port || chk.UseTLS() != tc.useTLS {
			t.Errorf("%s: got host %q port %d tls %v", tc.url, chk.host, chk.port, chk.UseTLS())
		}
	}
}

func TestNew_UnsupportedScheme(t *testing.T) {
	for _, u := range []string{"ftp://example.com/", "example.com", "ws://example.com"} {
		_, err := New(u, nil)
		var schemeErr *check.UnsupportedSchemeError
		if !errors.As(err, &schemeErr) {
			t.Errorf("%s: expected UnsupportedSchemeError, got %v", u, err)
		}
	}
}

func TestNew_InnerLayer(t *testing.T) {
	plain, err := New("http://example.com", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := plain.Describe().Layers; len(got) != 2 || got[0] != "tcp" || got[1] != "http" {
		t.Errorf("expected tcp, http layers, got %v", got)
	}

	secure, err := New("https://example.com", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	desc := secure.Describe()
	if len(desc.Layers) != 3 || desc.Layers[1] != "ssl" {
		t.Errorf("expected tcp, ssl, http layers, got %v", desc.Layers)
	}
	if desc.URL != "https://example.com" || desc.Type != TypeName {
		t.Errorf("unexpected descriptor %+v", desc)
	}
}

func TestNew_InvalidMethod(t *testing.T) {
	_, err := New("http://example.com", option.New(Defaults, map[string]any{"http.method": ""}))
	var ce *check.ConfigError
	if !errors.As(err, &ce) || ce.Key != "http.method" {
		t.Errorf("expected ConfigError for http.method, got %v", err)
	}
}

func TestHeaderKey(t *testing.T) {
	cases := map[string]string{
		"Content-Type":   "content_type",
		"X-Request-Id":   "x_request_id",
		"Server":         "server",
		"Weird Header-X": "weird_header_x",
	}
	for in, want := range cases {
		if got := HeaderKey(in); got != want {
			t.Errorf("HeaderKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRun_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test-Header", "present")
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "hello")
	}))
	defer srv.Close()

	res := newCheck(t, srv.URL+"/", nil).Run(context.Background())

	if !res.Bool("success") {
		t.Fatalf("expected success, got %v", res)
	}
	if res["http.resp.status"] != 200 {
		t.Errorf("expected status 200, got %v", res["http.resp.status"])
	}
	if res["http.resp.reason"] != "OK" {
		t.Errorf("expected reason OK, got %v", res["http.resp.reason"])
	}
	if res["http.resp.version"] != 11 {
		t.Errorf("expected version 11, got %v", res["http.resp.version"])
	}
	if string(res["http.resp.content"].([]byte)) != "hello" {
		t.Errorf("unexpected body %q", res["http.resp.content"])
	}
	if res["http.resp.body_length"] != 5 {
		t.Errorf("expected body length 5, got %v", res["http.resp.body_length"])
	}
	if res["http.resp.header.x_test_header"] != "present" {
		t.Errorf("expected normalized header, got %v", res["http.resp.header.x_test_header"])
	}
	headers, ok := res["http.resp.headers"].(map[string]string)
	if !ok || headers["content_type"] != "text/plain" {
		t.Errorf("unexpected headers map %v", res["http.resp.headers"])
	}
	for _, key := range []string{"http.con.time.perf", "http.resp.time.perf", "tcp.con.time.perf", "tcp.close.time.perf"} {
		if _, ok := res[key].(float64); !ok {
			t.Errorf("expected %s to be recorded", key)
		}
	}
	if _, ok := res["http.req.timestamp"]; !ok {
		t.Error("expected request timestamp")
	}
	if _, ok := res["ssl.success"]; ok {
		t.Error("plain HTTP must not record ssl results")
	}
}

func TestRun_NotFoundIsHTTPSuccess(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	res := newCheck(t, srv.URL+"/missing", nil).Run(context.Background())

	if !res.Bool("http.success") {
		t.Fatalf("expected http.success for a 404, got %v", res["http.error"])
	}
	if res["http.resp.status"] != 404 {
		t.Errorf("expected status 404, got %v", res["http.resp.status"])
	}
	if res["http.resp.reason"] != "Not Found" {
		t.Errorf("expected reason Not Found, got %v", res["http.resp.reason"])
	}
}

func TestRun_ResponseTimingIncludesRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := newCheck(t, srv.URL, nil).Run(context.Background())
	if !res.Succeeded() {
		t.Fatalf("expected success, got %v", res)
	}
	con, _ := res["http.con.time.perf"].(float64)
	resp, _ := res["http.resp.time.perf"].(float64)
	if resp < con {
		t.Errorf("expected http.resp (%v) to include http.con (%v)", resp, con)
	}
	if resp < 0.1 {
		t.Errorf("expected http.resp to cover the server delay, got %v", resp)
	}
}

func TestRun_RequestFraming(t *testing.T) {
	type seen struct {
		method, uri, host, header, body string
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- seen{r.Method, r.RequestURI, r.Host, r.Header.Get("X-Custom"), string(body)}
	}))
	defer srv.Close()

	res := newCheck(t, srv.URL+"/path?q=1&r=2", map[string]any{
		"http.method":          "post",
		"http.body":            "payload",
		"http.header.X-Custom": "abc",
	}).Run(context.Background())

	if !res.Bool("success") {
		t.Fatalf("expected success, got %v", res)
	}
	s := <-got
	if s.method != "POST" {
		t.Errorf("expected POST, got %q", s.method)
	}
	if s.uri != "/path?q=1&r=2" {
		t.Errorf("expected query to be preserved, got %q", s.uri)
	}
	if s.host != srv.Listener.Addr().String() {
		t.Errorf("unexpected Host header %q", s.host)
	}
	if s.header != "abc" {
		t.Errorf("expected full header name to be used, got %q", s.header)
	}
	if s.body != "payload" {
		t.Errorf("expected body payload, got %q", s.body)
	}
}

func TestRun_ClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	res := newCheck(t, "http://127.0.0.1:"+strconv.Itoa(port)+"/", nil).Run(context.Background())

	if res.Bool("success") {
		t.Error("expected failure")
	}
	if v, ok := res["tcp.success"].(bool); !ok || v {
		t.Errorf("expected tcp.success=false, got %v", res["tcp.success"])
	}
	if v, ok := res["http.success"].(bool); !ok || v {
		t.Errorf("expected http.success=false, got %v", res["http.success"])
	}
	if _, ok := res["http.resp.status"]; ok {
		t.Error("no response fields expected without a connection")
	}
}

func TestRun_MalformedResponse(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		conn.Read(buf)
		io.WriteString(conn, "this is not http\r\n\r\n")
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	res := newCheck(t, "http://127.0.0.1:"+strconv.Itoa(port)+"/", nil).Run(context.Background())

	if !res.Bool("tcp.success") {
		t.Fatalf("expected tcp.success, got %v", res["tcp.error"])
	}
	if v, ok := res["http.success"].(bool); !ok || v {
		t.Errorf("expected http.success=false, got %v", res["http.success"])
	}
	if _, ok := res["http.resp.status"]; ok {
		t.Error("no response fields expected for a malformed response")
	}
	if _, ok := res["tcp.close.time.perf"]; !ok {
		t.Error("expected the TCP connection to be closed")
	}
	if res.Bool("success") {
		t.Error("expected overall failure")
	}
}

func TestRun_HTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "secure")
	}))
	defer srv.Close()

	res := newCheck(t, srv.URL+"/", map[string]any{"ssl.verify_mode": "CERT_NONE"}).Run(context.Background())

	if !res.Bool("success") {
		t.Fatalf("expected success, got ssl=%v http=%v", res["ssl.error"], res["http.error"])
	}
	for _, key := range []string{"tcp.success", "ssl.success", "http.success"} {
		if !res.Bool(key) {
			t.Errorf("expected %s", key)
		}
	}
	if _, ok := res["ssl.shutdown.time.perf"]; !ok {
		t.Error("expected TLS shutdown when the HTTP stream is closed")
	}
	if _, ok := res["tcp.close.time.perf"]; !ok {
		t.Error("expected TCP close when the HTTP stream is closed")
	}
}

func TestRun_HTTPSVerifyFailure(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	res := newCheck(t, srv.URL+"/", nil).Run(context.Background())

	if res.Bool("success") {
		t.Error("expected failure against an untrusted certificate")
	}
	if res.Bool("ssl.success") {
		t.Error("expected ssl.success=false")
	}
	if res.Bool("http.success") {
		t.Error("expected http.success=false")
	}
}

func TestDisconnect_ClosesOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	chk := newCheck(t, srv.URL, nil)
	res := check.NewResults()
	conn := chk.Connect(context.Background(), res)
	if conn == nil {
		t.Fatalf("expected connection, got %v", res)
	}
	chk.Disconnect(conn, res)
	delete(res, "tcp.close.time.perf")
	chk.Disconnect(conn, res)
	if _, ok := res["tcp.close.time.perf"]; ok {
		t.Error("second disconnect should not tear down again")
	}
}

func TestFactory(t *testing.T) {
	logger := logrus.New()
	chk, err := Factory(logger)("https://example.com/health", map[string]any{"http.method": "HEAD"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chk.Type() != TypeName {
		t.Errorf("expected type http, got %q", chk.Type())
	}
	if chk.Describe().Options["http.method"] != "HEAD" {
		t.Errorf("expected override in options, got %v", chk.Describe().Options["http.method"])
	}
	if chk.(*Check).logger != logger {
		t.Error("expected factory logger to be used")
	}
	if _, err := Factory(nil)("gopher://example.com", nil); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestCheckInterface(t *testing.T) {
	var _ check.Layer = (*Check)(nil)
}
