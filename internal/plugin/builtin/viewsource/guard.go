package viewsource

import (
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"toolbox/internal/toolerr"
)

// carrierNAT is the shared address space of RFC 6598.
var carrierNAT = netip.MustParsePrefix("100.64.0.0/10")

// blockedAddr reports whether a is not a public unicast address.
func blockedAddr(a netip.Addr) bool {
	a = a.Unmap()
	return !a.IsValid() ||
		a.IsLoopback() ||
		a.IsPrivate() ||
		a.IsLinkLocalUnicast() ||
		a.IsLinkLocalMulticast() ||
		a.IsInterfaceLocalMulticast() ||
		a.IsMulticast() ||
		a.IsUnspecified() ||
		carrierNAT.Contains(a)
}

var errPrivateAddr = toolerr.Validation("the address points into a private or local network")

// checkHost rejects hosts that are literally local before anything is fetched.
// Names are checked again at dial time, after resolution.
func checkHost(u *url.URL) error {
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return errPrivateAddr
	}
	if a, err := netip.ParseAddr(host); err == nil && blockedAddr(a) {
		return errPrivateAddr
	}
	return nil
}

// newClient returns the fetch client. Unless allowPrivate says otherwise,
// every connection, redirects included, must go to a public address.
func newClient(allowPrivate func() bool) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			if allowPrivate() {
				return nil
			}
			ap, err := netip.ParseAddrPort(address)
			if err != nil || blockedAddr(ap.Addr()) {
				return errPrivateAddr
			}
			return nil
		},
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 nil,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return toolerr.Validation("stopped after 5 redirects")
			}
			return checkScheme(req.URL)
		},
	}
}
