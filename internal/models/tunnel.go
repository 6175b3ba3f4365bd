package models

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"time"

	"golang.org/x/net/idna"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const (
	DefaultMTU     = 1280
	DefaultSession = "WireGuard-Tunnel"
	DefaultName    = "MyWireGuardTunnel"
	DefaultFwMark  = 51820

	minMTU = 576
	maxMTU = 65535
)

// ErrConfigInvalid marks a tunnel configuration that is missing a required
// field or carries a malformed one.
var ErrConfigInvalid = errors.New("invalid tunnel config")

// TunnelConfig is the declarative description of one WireGuard tunnel.
// Treat it as a value: callers that need to change a field work on Clone().
type TunnelConfig struct {
	Name      string
	Interface Interface
	Peers     []Peer
}

type Interface struct {
	Addresses  []netip.Prefix
	MTU        int
	DNS        []netip.Addr
	Routes     []netip.Prefix
	PrivateKey wgtypes.Key
	ListenPort int
	FwMark     int
}

type Peer struct {
	PublicKey           wgtypes.Key
	PresharedKey        *wgtypes.Key
	Endpoint            string
	AllowedIPs          []netip.Prefix
	PersistentKeepalive time.Duration
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// Normalize fills defaults: MTU, tunnel name and routes (union of the
// peers' allowed IPs when none are given).
func (c TunnelConfig) Normalize() TunnelConfig {
	out := c.Clone()
	if out.Name == "" {
		out.Name = DefaultName
	}
	if out.Interface.MTU == 0 {
		out.Interface.MTU = DefaultMTU
	}
	if len(out.Interface.Routes) == 0 {
		for _, p := range out.Peers {
			for _, ip := range p.AllowedIPs {
				if !slices.Contains(out.Interface.Routes, ip.Masked()) {
					out.Interface.Routes = append(out.Interface.Routes, ip.Masked())
				}
			}
		}
	}
	return out
}

// Validate checks the invariants every config handed to the engine must hold.
func (c TunnelConfig) Validate() error {
	iface := c.Interface
	if len(iface.Addresses) == 0 {
		return invalid("interface has no address")
	}
	for _, a := range iface.Addresses {
		if !a.IsValid() {
			return invalid("interface address %q", a)
		}
	}
	if iface.MTU < minMTU || iface.MTU > maxMTU {
		return invalid("mtu %d out of range [%d, %d]", iface.MTU, minMTU, maxMTU)
	}
	if isZeroKey(iface.PrivateKey) {
		return invalid("private key is empty")
	}
	if iface.ListenPort < 0 || iface.ListenPort > 65535 {
		return invalid("listen port %d", iface.ListenPort)
	}
	if len(c.Peers) == 0 {
		return invalid("no peer configured")
	}
	for i, p := range c.Peers {
		if isZeroKey(p.PublicKey) {
			return invalid("peer %d: public key is empty", i)
		}
		if p.PublicKey == iface.PrivateKey.PublicKey() {
			return invalid("peer %d: public key belongs to this interface", i)
		}
		if err := ValidateEndpoint(p.Endpoint); err != nil {
			return fmt.Errorf("peer %d: %w", i, err)
		}
		if len(p.AllowedIPs) == 0 {
			return invalid("peer %d: no allowed ips", i)
		}
		if p.PersistentKeepalive < 0 {
			return invalid("peer %d: negative keepalive", i)
		}
	}
	return nil
}

// ValidateEndpoint accepts host:port where host is an IP literal or a
// hostname that survives IDNA lookup conversion.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return invalid("peer endpoint is empty")
	}
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return invalid("peer endpoint %q: %v", endpoint, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return invalid("peer endpoint %q: bad port", endpoint)
	}
	if host == "" {
		return invalid("peer endpoint %q: empty host", endpoint)
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return nil
	}
	if _, err := idna.Lookup.ToASCII(host); err != nil {
		return invalid("peer endpoint %q: %v", endpoint, err)
	}
	return nil
}

// Clone returns a deep copy.
func (c TunnelConfig) Clone() TunnelConfig {
	out := c
	out.Interface.Addresses = slices.Clone(c.Interface.Addresses)
	out.Interface.DNS = slices.Clone(c.Interface.DNS)
	out.Interface.Routes = slices.Clone(c.Interface.Routes)
	out.Peers = make([]Peer, len(c.Peers))
	for i, p := range c.Peers {
		cp := p
		cp.AllowedIPs = slices.Clone(p.AllowedIPs)
		if p.PresharedKey != nil {
			k := *p.PresharedKey
			cp.PresharedKey = &k
		}
		out.Peers[i] = cp
	}
	return out
}

// FullTunnel reports whether any route covers the whole address space of a family.
func (c TunnelConfig) FullTunnel() bool {
	for _, r := range c.Interface.Routes {
		if r.Bits() == 0 {
			return true
		}
	}
	return false
}

func isZeroKey(k wgtypes.Key) bool {
	return k == wgtypes.Key{}
}

// EffectiveFwMark is the mark the engine sets on its sockets. A full tunnel
// without an explicit mark gets DefaultFwMark so its own UDP traffic can be
// routed outside the tunnel.
func (c TunnelConfig) EffectiveFwMark() int {
	if c.Interface.FwMark == 0 && c.FullTunnel() {
		return DefaultFwMark
	}
	return c.Interface.FwMark
}
