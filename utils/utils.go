package utils

import (
	"fmt"
	"net"

	"github.com/oklog/ulid/v2"
)

// GenerateID creates a unique, lexicographically sortable identifier.
// Used for session ids, message ids and attachment correlation ids.
func GenerateID() string {
	return ulid.Make().String()
}

// GetIPFromAddr extracts the IP portion of a network address.
func GetIPFromAddr(addr net.Addr) (net.IP, error) {
	if addr == nil {
		return nil, fmt.Errorf("address is nil")
	}

	var ip net.IP
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			// Maybe it's just an IP without port
			host = addr.String()
		}
		ip = net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("unable to extract IP from address: %v", addr)
		}
	}
	return ip, nil
}
