package utils

import (
	"fmt"
	"net"
)

// CIDRSize returns the number of addresses in a CIDR network.
func CIDRSize(cidr *net.IPNet) uint64 {
	ones, bits := cidr.Mask.Size()
	return 1 << (bits - ones)
}

// SubnetCount returns how many distinct /prefixLen networks fit inside parent.
// It returns 0 when prefixLen is shorter than the parent prefix.
func SubnetCount(parent *net.IPNet, prefixLen int) uint64 {
	ones, bits := parent.Mask.Size()
	if prefixLen < ones || prefixLen > bits {
		return 0
	}
	return 1 << (prefixLen - ones)
}

// NetworkString clears the host bits of an IPv4 address for the given prefix
// length and returns the network in CIDR notation, e.g. 10.1.2.3/16 -> 10.1.0.0/16.
func NetworkString(ip net.IP, prefixLen int) (string, error) {
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("not an IPv4 address: %s", ip)
	}
	if prefixLen < 0 || prefixLen > 32 {
		return "", fmt.Errorf("invalid IPv4 prefix length %d", prefixLen)
	}
	mask := net.CIDRMask(prefixLen, 32)
	ipNet := net.IPNet{IP: v4.Mask(mask), Mask: mask}
	return ipNet.String(), nil
}

// HostCIDR returns the single-address CIDR for ip (/32 or /128).
func HostCIDR(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return (&net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}).String()
	}
	return (&net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}).String()
}

// Inc advances ip to the next address in place.
func Inc(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}
