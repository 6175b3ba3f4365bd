package profile

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgsession/internal/models"
)

// File is the on-disk profile layout shared by the TOML and wg-quick readers.
type File struct {
	Name      string        `toml:"name,omitempty"`
	Interface InterfaceFile `toml:"interface"`
	Peers     []PeerFile    `toml:"peer"`
}

type InterfaceFile struct {
	Address    []string `toml:"address"`
	MTU        int      `toml:"mtu,omitempty"`
	DNS        []string `toml:"dns,omitempty"`
	Routes     []string `toml:"routes,omitempty"`
	PrivateKey string   `toml:"private_key"`
	ListenPort int      `toml:"listen_port,omitempty"`
	FwMark     int      `toml:"fwmark,omitempty"`
}

type PeerFile struct {
	PublicKey           string   `toml:"public_key"`
	PresharedKey        string   `toml:"preshared_key,omitempty"`
	Endpoint            string   `toml:"endpoint"`
	AllowedIPs          []string `toml:"allowed_ips"`
	PersistentKeepalive int      `toml:"persistent_keepalive,omitempty"`
}

// TunnelConfig resolves key references and parses addresses. The result is
// normalized and validated.
func (f File) TunnelConfig(keys KeyResolver) (models.TunnelConfig, error) {
	var cfg models.TunnelConfig
	cfg.Name = f.Name

	var err error
	if cfg.Interface.Addresses, err = parsePrefixes("interface.address", f.Interface.Address, true); err != nil {
		return cfg, err
	}
	if cfg.Interface.Routes, err = parsePrefixes("interface.routes", f.Interface.Routes, false); err != nil {
		return cfg, err
	}
	for _, s := range f.Interface.DNS {
		ip, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return cfg, fmt.Errorf("%w: interface.dns %q", models.ErrConfigInvalid, s)
		}
		cfg.Interface.DNS = append(cfg.Interface.DNS, ip)
	}
	cfg.Interface.MTU = f.Interface.MTU
	cfg.Interface.ListenPort = f.Interface.ListenPort
	cfg.Interface.FwMark = f.Interface.FwMark

	if cfg.Interface.PrivateKey, err = keys.Resolve("interface.private_key", f.Interface.PrivateKey); err != nil {
		return cfg, err
	}

	for i, p := range f.Peers {
		field := fmt.Sprintf("peer[%d]", i)
		var peer models.Peer

		if peer.PublicKey, err = wgtypes.ParseKey(strings.TrimSpace(p.PublicKey)); err != nil {
			return cfg, fmt.Errorf("%w: %s.public_key: %v", models.ErrConfigInvalid, field, err)
		}
		if p.PresharedKey != "" {
			psk, err := keys.Resolve(field+".preshared_key", p.PresharedKey)
			if err != nil {
				return cfg, err
			}
			peer.PresharedKey = &psk
		}
		peer.Endpoint = strings.TrimSpace(p.Endpoint)
		if peer.AllowedIPs, err = parsePrefixes(field+".allowed_ips", p.AllowedIPs, false); err != nil {
			return cfg, err
		}
		if p.PersistentKeepalive < 0 {
			return cfg, fmt.Errorf("%w: %s.persistent_keepalive %d", models.ErrConfigInvalid, field, p.PersistentKeepalive)
		}
		peer.PersistentKeepalive = time.Duration(p.PersistentKeepalive) * time.Second
		cfg.Peers = append(cfg.Peers, peer)
	}

	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// parsePrefixes accepts CIDRs and, when hostBits is set, bare addresses
// (taken as /32 or /128) the way wg-quick does for Address.
func parsePrefixes(field string, values []string, hostBits bool) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, s := range values {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err == nil {
			if !hostBits {
				p = p.Masked()
			}
			out = append(out, p)
			continue
		}
		ip, err2 := netip.ParseAddr(s)
		if err2 != nil {
			return nil, fmt.Errorf("%w: %s %q: %v", models.ErrConfigInvalid, field, s, err)
		}
		out = append(out, netip.PrefixFrom(ip, ip.BitLen()))
	}
	return out, nil
}
