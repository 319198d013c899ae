// Package privacy masks caller addresses before they reach request logs.
package privacy

import (
	"fmt"
	"net"
)

// AnonymizeIP keeps only the network prefix of ip: /24 for IPv4 ("192.168.1.47"
// -> "192.168.1.0") and /48 for IPv6. Empty input yields "unknown", unparseable
// input yields "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "invalid"
	}

	// Check for IPv4 (including IPv4-mapped IPv6)
	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
	}

	// first 6 bytes are the /48 prefix
	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::",
		parsed[0], parsed[1],
		parsed[2], parsed[3],
		parsed[4], parsed[5])
}
