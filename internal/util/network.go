package util

import (
	"net"
	"strconv"
	"strings"
)

// SplitHostPort splits a network address into host and port.
// Unlike net.SplitHostPort, this handles addresses without ports.
func SplitHostPort(addr string) (host string, port int, err error) {
	// Try standard split first
	h, p, splitErr := net.SplitHostPort(addr)
	if splitErr == nil {
		portNum, parseErr := strconv.Atoi(p)
		if parseErr != nil {
			return "", 0, parseErr
		}
		return h, portNum, nil
	}

	// If no port, return the address as host with port 0
	if strings.Contains(splitErr.Error(), "missing port") {
		return addr, 0, nil
	}

	return "", 0, splitErr
}

// IsLocalAddress checks if an address is a local/loopback address.
func IsLocalAddress(addr string) bool {
	host, _, _ := SplitHostPort(addr)
	if host == "" {
		host = addr
	}

	// Check common local hostnames
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}

	// Parse as IP and check
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	return ip.IsLoopback() || ip.IsUnspecified()
}

// GetOutboundIP returns the preferred outbound IP of this machine.
func GetOutboundIP() (net.IP, error) {
	// Use UDP dial to find the preferred outbound IP
	// This doesn't actually connect but determines the interface
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP, nil
}
