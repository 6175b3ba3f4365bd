package models

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func validConfig(t *testing.T) TunnelConfig {
	t.Helper()
	priv, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	peer, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)

	return TunnelConfig{
		Interface: Interface{
			Addresses:  []netip.Prefix{netip.MustParsePrefix("10.0.0.20/32")},
			PrivateKey: priv,
		},
		Peers: []Peer{{
			PublicKey: peer.PublicKey(),
			Endpoint:  "vpn.example.com:51820",
			AllowedIPs: []netip.Prefix{
				netip.MustParsePrefix("10.0.0.0/24"),
				netip.MustParsePrefix("10.0.0.1/24"),
				netip.MustParsePrefix("0.0.0.0/0"),
			},
			PersistentKeepalive: 25 * time.Second,
		}},
	}
}

func TestNormalize_Defaults(t *testing.T) {
	cfg := validConfig(t).Normalize()

	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, DefaultMTU, cfg.Interface.MTU)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/24"),
		netip.MustParsePrefix("0.0.0.0/0"),
	}, cfg.Interface.Routes)
	assert.True(t, cfg.FullTunnel())
	assert.NoError(t, cfg.Validate())
}

func TestNormalize_KeepsExplicitRoutes(t *testing.T) {
	in := validConfig(t)
	in.Interface.Routes = []netip.Prefix{netip.MustParsePrefix("192.168.0.0/16")}
	out := in.Normalize()
	assert.Equal(t, in.Interface.Routes, out.Interface.Routes)
	assert.False(t, out.FullTunnel())
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*TunnelConfig){
		"no address":       func(c *TunnelConfig) { c.Interface.Addresses = nil },
		"mtu too small":    func(c *TunnelConfig) { c.Interface.MTU = 100 },
		"no private key":   func(c *TunnelConfig) { c.Interface.PrivateKey = wgtypes.Key{} },
		"bad listen port":  func(c *TunnelConfig) { c.Interface.ListenPort = 70000 },
		"no peers":         func(c *TunnelConfig) { c.Peers = nil },
		"no peer key":      func(c *TunnelConfig) { c.Peers[0].PublicKey = wgtypes.Key{} },
		"own key as peer":  func(c *TunnelConfig) { c.Peers[0].PublicKey = c.Interface.PrivateKey.PublicKey() },
		"no endpoint":      func(c *TunnelConfig) { c.Peers[0].Endpoint = "" },
		"no allowed ips":   func(c *TunnelConfig) { c.Peers[0].AllowedIPs = nil },
		"neg keepalive":    func(c *TunnelConfig) { c.Peers[0].PersistentKeepalive = -time.Second },
		"endpoint no port": func(c *TunnelConfig) { c.Peers[0].Endpoint = "vpn.example.com" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig(t).Normalize()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
		})
	}
}

func TestValidateEndpoint(t *testing.T) {
	for _, ok := range []string{"1.2.3.4:51820", "[2001:db8::1]:443", "vpn.example.com:1", "bücher.example:51820"} {
		assert.NoError(t, ValidateEndpoint(ok), ok)
	}
	for _, bad := range []string{"", "1.2.3.4", "1.2.3.4:0", "1.2.3.4:99999", ":51820", "host:port"} {
		assert.ErrorIs(t, ValidateEndpoint(bad), ErrConfigInvalid, bad)
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := validConfig(t)
	psk, err := wgtypes.GenerateKey()
	require.NoError(t, err)
	orig.Peers[0].PresharedKey = &psk

	cp := orig.Clone()
	cp.Interface.Addresses[0] = netip.MustParsePrefix("172.16.0.1/32")
	cp.Peers[0].AllowedIPs[0] = netip.MustParsePrefix("1.1.1.1/32")
	cp.Peers[0].PresharedKey[0] ^= 0xff

	assert.Equal(t, netip.MustParsePrefix("10.0.0.20/32"), orig.Interface.Addresses[0])
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/24"), orig.Peers[0].AllowedIPs[0])
	assert.Equal(t, psk, *orig.Peers[0].PresharedKey)
}

func TestEffectiveFwMark(t *testing.T) {
	cfg := validConfig(t).Normalize()
	assert.Equal(t, DefaultFwMark, cfg.EffectiveFwMark())

	cfg.Interface.FwMark = 7
	assert.Equal(t, 7, cfg.EffectiveFwMark())

	split := validConfig(t)
	split.Peers[0].AllowedIPs = split.Peers[0].AllowedIPs[:1]
	assert.Equal(t, 0, split.Normalize().EffectiveFwMark())
}
