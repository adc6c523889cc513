package logic

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/avct/uasurfer"

	"github.com/patrickwarner/addelivery/internal/geoip"
	"github.com/patrickwarner/addelivery/internal/models"
)

// DeviceFromUA parses a raw User-Agent string into device, OS and browser
// descriptors using uasurfer.
func DeviceFromUA(uaString string) models.DeviceInfo {
	u := uasurfer.Parse(uaString)

	var deviceType string
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		deviceType = "desktop"
	case uasurfer.DevicePhone:
		deviceType = "mobile"
	case uasurfer.DeviceTablet:
		deviceType = "tablet"
	default:
		deviceType = "other"
	}

	v := u.OS.Version
	osName := fmt.Sprintf("%s %s %d.%d.%d", u.OS.Platform.String(), u.OS.Name.String(), v.Major, v.Minor, v.Patch)
	bv := u.Browser.Version
	browser := fmt.Sprintf("%s %d.%d.%d", u.Browser.Name.String(), bv.Major, bv.Minor, bv.Patch)

	return models.DeviceInfo{
		DeviceType: deviceType,
		OS:         osName,
		Browser:    browser,
		IsBot:      u.IsBot(),
	}
}

// ResolveDevice builds the device metadata stored with an impression. The
// client-reported deviceInfo object is kept verbatim alongside the derived
// fields.
func ResolveDevice(g *geoip.GeoIP, uaString, ip string, client map[string]any) models.DeviceInfo {
	info := DeviceFromUA(uaString)
	info.Country = g.Country(ip)
	if len(client) > 0 {
		info.Client = client
	}
	return info
}

// IPResolver derives the requester's address. Forwarding headers are only
// honoured when the connecting peer is one of the trusted proxies; anyone
// else could rotate them freely.
type IPResolver struct {
	trusted []*net.IPNet
}

// NewIPResolver parses trusted proxy addresses or CIDR ranges. An empty list
// trusts no one and every request resolves to its connection address.
func NewIPResolver(proxies []string) (*IPResolver, error) {
	r := &IPResolver{}
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q is not an IP or CIDR", p)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			p = fmt.Sprintf("%s/%d", p, bits)
		}
		_, network, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", p, err)
		}
		r.trusted = append(r.trusted, network)
	}
	return r, nil
}

func (r *IPResolver) isTrusted(addr string) bool {
	if r == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range r.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the requester's network address. Behind a trusted proxy
// the X-Forwarded-For chain is walked from the nearest hop back, skipping
// trusted hops, and X-Real-IP is used when there is no chain. A nil resolver
// uses the connection address only.
func (r *IPResolver) ClientIP(req *http.Request) string {
	peer := remoteHost(req.RemoteAddr)
	if !r.isTrusted(peer) {
		return peer
	}
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !r.isTrusted(hop) || i == 0 {
				return hop
			}
		}
	}
	if real := strings.TrimSpace(req.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	return peer
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
