package capture

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// ErrForbiddenAddress is returned when a snapshot URL resolves to a loopback,
// private, link-local or otherwise non-public address.
var ErrForbiddenAddress = errors.New("snapshot address not allowed")

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// NewGuardedClient returns an HTTP client that only connects to public
// unicast addresses. The check runs on the resolved address of every dial,
// so redirects and DNS tricks are covered. Proxies are not used.
func NewGuardedClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout, Control: guardDial}
	transport := &http.Transport{
		Proxy:               nil,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: timeout,
		MaxIdleConns:        4,
		IdleConnTimeout:     30 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errors.New("too many snapshot redirects")
			}
			return nil
		},
	}
}

func guardDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, host)
	}
	if !PublicAddress(addr) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, addr)
	}
	return nil
}

// PublicAddress reports whether addr is a routable public unicast address.
func PublicAddress(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		!addr.IsGlobalUnicast(),
		addr.IsPrivate(),
		addr.IsLoopback(),
		addr.IsLinkLocalUnicast(),
		sharedAddressSpace.Contains(addr):
		return false
	}
	return true
}
