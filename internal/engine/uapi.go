package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgsession/internal/models"
)

// Resolver looks up endpoint hostnames. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

func hexKey(k wgtypes.Key) string {
	return hex.EncodeToString(k[:])
}

// ResolveEndpoint turns host:port into an address, preferring IPv4 like
// wg(8) does.
func ResolveEndpoint(ctx context.Context, r Resolver, endpoint string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(endpoint); err == nil {
		return ap, nil
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return netip.AddrPort{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("port %q: %w", portStr, err)
	}
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("no addresses for %s", host)
	}
	pick := addrs[0]
	for _, a := range addrs {
		if a.Unmap().Is4() {
			pick = a
			break
		}
	}
	return netip.AddrPortFrom(pick.Unmap(), uint16(port)), nil
}

// BuildUAPI renders cfg in the wireguard-go configuration protocol.
// public_key opens each peer block, as the protocol requires.
func BuildUAPI(ctx context.Context, cfg models.TunnelConfig, r Resolver) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "private_key=%s\n", hexKey(cfg.Interface.PrivateKey))
	if cfg.Interface.ListenPort > 0 {
		fmt.Fprintf(&b, "listen_port=%d\n", cfg.Interface.ListenPort)
	}
	if mark := cfg.EffectiveFwMark(); mark != 0 {
		fmt.Fprintf(&b, "fwmark=%d\n", mark)
	}
	b.WriteString("replace_peers=true\n")

	for i, p := range cfg.Peers {
		fmt.Fprintf(&b, "public_key=%s\n", hexKey(p.PublicKey))
		if p.PresharedKey != nil {
			fmt.Fprintf(&b, "preshared_key=%s\n", hexKey(*p.PresharedKey))
		}
		ep, err := ResolveEndpoint(ctx, r, p.Endpoint)
		if err != nil {
			return "", fmt.Errorf("peer %d endpoint %q: %w", i, p.Endpoint, err)
		}
		fmt.Fprintf(&b, "endpoint=%s\n", ep)
		if p.PersistentKeepalive > 0 {
			fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", int(p.PersistentKeepalive/time.Second))
		}
		b.WriteString("replace_allowed_ips=true\n")
		for _, ip := range p.AllowedIPs {
			fmt.Fprintf(&b, "allowed_ip=%s\n", ip.Masked())
		}
	}
	return b.String(), nil
}

// PeerStatus is the runtime view of one peer.
type PeerStatus struct {
	PublicKey     wgtypes.Key
	Endpoint      string
	LastHandshake time.Time
	RxBytes       int64
	TxBytes       int64
}

// ParseStatus reads the peers out of an IpcGet dump.
func ParseStatus(dump string) ([]PeerStatus, error) {
	var (
		peers []PeerStatus
		cur   *PeerStatus
		sec   int64
		nsec  int64
	)
	flush := func() {
		if cur != nil {
			if sec != 0 || nsec != 0 {
				cur.LastHandshake = time.Unix(sec, nsec)
			}
			peers = append(peers, *cur)
		}
		sec, nsec = 0, 0
	}

	for _, line := range strings.Split(dump, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		var err error
		switch key {
		case "public_key":
			flush()
			var raw []byte
			raw, err = hex.DecodeString(value)
			if err == nil && len(raw) != wgtypes.KeyLen {
				err = fmt.Errorf("key length %d", len(raw))
			}
			if err == nil {
				cur = &PeerStatus{}
				copy(cur.PublicKey[:], raw)
			}
		case "endpoint":
			if cur != nil {
				cur.Endpoint = value
			}
		case "last_handshake_time_sec":
			sec, err = strconv.ParseInt(value, 10, 64)
		case "last_handshake_time_nsec":
			nsec, err = strconv.ParseInt(value, 10, 64)
		case "rx_bytes":
			if cur != nil {
				cur.RxBytes, err = strconv.ParseInt(value, 10, 64)
			}
		case "tx_bytes":
			if cur != nil {
				cur.TxBytes, err = strconv.ParseInt(value, 10, 64)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", key, err)
		}
	}
	flush()
	return peers, nil
}
