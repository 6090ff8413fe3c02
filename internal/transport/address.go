package transport

import (
	"fmt"
	"net"
	"strconv"
)

// Address is a host (name or IP literal) and a UDP port. Host names are resolved lazily by the transport, at send time.
type Address struct {
	Host string
	Port uint16
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.FormatUint(uint64(a.Port), 10))
}

// NewAddress constructs a new address from a string in the format "host:port" (IPv6 literals in brackets).
func NewAddress(str string) (Address, error) {
	host, portStr, err := net.SplitHostPort(str)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", str, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("invalid port in %q: %w", str, err)
	}
	return Address{Host: host, Port: uint16(port)}, nil
}
