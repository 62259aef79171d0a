package auth

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the client address for a request. Forwarding
// headers are trusted only when the direct peer is inside one of the
// trusted proxy networks; otherwise the peer address wins, so clients
// cannot spoof their way past per-IP limits.
func ClientIP(r *http.Request, trustedProxies []*net.IPNet) string {
	if r == nil {
		return ""
	}
	remoteHost := remoteAddrHost(r.RemoteAddr)
	if remoteHost == "" {
		return ""
	}
	if len(trustedProxies) == 0 {
		return remoteHost
	}
	remoteIP := parseIP(remoteHost)
	if remoteIP == nil || !ipInNets(remoteIP, trustedProxies) {
		return remoteHost
	}
	if ip := selectClientIP(parseForwarded(r.Header.Get("Forwarded")), trustedProxies); ip != "" {
		return ip
	}
	if ip := selectClientIP(parseXForwardedFor(r.Header.Get("X-Forwarded-For")), trustedProxies); ip != "" {
		return ip
	}
	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != nil {
		return ip.String()
	}
	return remoteHost
}

// ParseTrustedProxies parses proxy IPs and CIDRs, returning the valid
// networks and the values it had to ignore.
func ParseTrustedProxies(values []string) ([]*net.IPNet, []string) {
	if len(values) == 0 {
		return nil, nil
	}
	trusted := make([]*net.IPNet, 0, len(values))
	var invalid []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			invalid = append(invalid, value)
			continue
		}
		if strings.Contains(value, "/") {
			_, ipNet, err := net.ParseCIDR(value)
			if err != nil {
				invalid = append(invalid, value)
				continue
			}
			trusted = append(trusted, ipNet)
			continue
		}
		ip := parseIP(value)
		if ip == nil {
			invalid = append(invalid, value)
			continue
		}
		maskBits := 128
		if ip.To4() != nil {
			maskBits = 32
		}
		trusted = append(trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(maskBits, maskBits)})
	}
	return trusted, invalid
}

func remoteAddrHost(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" {
		return host
	}
	return addr
}

// selectClientIP walks the proxy chain right to left and returns the
// first hop that is not a trusted proxy.
func selectClientIP(ips []net.IP, trustedProxies []*net.IPNet) string {
	if len(ips) == 0 {
		return ""
	}
	for i := len(ips) - 1; i >= 0; i-- {
		ip := normalizeIP(ips[i])
		if ip == nil {
			continue
		}
		if !ipInNets(ip, trustedProxies) {
			return ip.String()
		}
	}
	for _, ip := range ips {
		ip = normalizeIP(ip)
		if ip != nil {
			return ip.String()
		}
	}
	return ""
}

// parseForwarded extracts the for= hops from an RFC 7239 header.
func parseForwarded(header string) []net.IP {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	ips := make([]net.IP, 0, len(parts))
	for _, part := range parts {
		for _, param := range strings.Split(part, ";") {
			param = strings.TrimSpace(param)
			if len(param) < 4 || !strings.EqualFold(param[:4], "for=") {
				continue
			}
			if ip := parseForwardedValue(strings.TrimSpace(param[4:])); ip != nil {
				ips = append(ips, ip)
			}
		}
	}
	return ips
}

func parseXForwardedFor(header string) []net.IP {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	ips := make([]net.IP, 0, len(parts))
	for _, part := range parts {
		if ip := parseIP(part); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

// parseForwardedValue handles the quoted, bracketed, and host:port
// spellings RFC 7239 allows.
func parseForwardedValue(value string) net.IP {
	value = strings.Trim(strings.TrimSpace(value), "\"")
	if value == "" || strings.EqualFold(value, "unknown") {
		return nil
	}
	if strings.HasPrefix(value, "[") {
		if idx := strings.Index(value, "]"); idx != -1 {
			return parseIP(value[1:idx])
		}
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		return parseIP(host)
	}
	return parseIP(value)
}

func parseIP(value string) net.IP {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if idx := strings.IndexByte(value, '%'); idx != -1 {
		value = value[:idx]
	}
	return normalizeIP(net.ParseIP(value))
}

func normalizeIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

func ipInNets(ip net.IP, nets []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, ipNet := range nets {
		if ipNet != nil && ipNet.Contains(ip) {
			return true
		}
	}
	return false
}
