package cmd

import (
	"context"
	"net"
	"time"

	"wgsession/internal/engine"
	"wgsession/internal/models"
	"wgsession/pkg/jsonhelper"

	"github.com/spf13/cobra"
)

var (
	checkProfile string
	checkResolve bool

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "validate the tunnel profile and print what it resolves to",
		Long:  "check builds the profile exactly as up would, including key lookup, and prints a JSON summary without secrets.",
		RunE:  check,
	}
)

type peerSummary struct {
	PublicKey    string   `json:"public_key"`
	Endpoint     string   `json:"endpoint,omitempty"`
	Resolved     string   `json:"resolved,omitempty"`
	AllowedIPs   []string `json:"allowed_ips"`
	PresharedKey bool     `json:"preshared_key"`
	Keepalive    string   `json:"persistent_keepalive,omitempty"`
}

type profileSummary struct {
	Profile    string        `json:"profile"`
	Name       string        `json:"name"`
	PublicKey  string        `json:"public_key"`
	Addresses  []string      `json:"addresses"`
	MTU        int           `json:"mtu"`
	DNS        []string      `json:"dns,omitempty"`
	Routes     []string      `json:"routes"`
	FullTunnel bool          `json:"full_tunnel"`
	FwMark     int           `json:"fwmark,omitempty"`
	ListenPort int           `json:"listen_port,omitempty"`
	Peers      []peerSummary `json:"peers"`
}

func strs[T interface{ String() string }](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = v.String()
	}
	return out
}

func summarize(ctx context.Context, path string, cfg models.TunnelConfig, resolve bool) (profileSummary, error) {
	s := profileSummary{
		Profile:    path,
		Name:       cfg.Name,
		PublicKey:  cfg.Interface.PrivateKey.PublicKey().String(),
		Addresses:  strs(cfg.Interface.Addresses),
		MTU:        cfg.Interface.MTU,
		DNS:        strs(cfg.Interface.DNS),
		Routes:     strs(cfg.Interface.Routes),
		FullTunnel: cfg.FullTunnel(),
		FwMark:     cfg.EffectiveFwMark(),
		ListenPort: cfg.Interface.ListenPort,
	}
	for _, p := range cfg.Peers {
		ps := peerSummary{
			PublicKey:    p.PublicKey.String(),
			Endpoint:     p.Endpoint,
			AllowedIPs:   strs(p.AllowedIPs),
			PresharedKey: p.PresharedKey != nil,
		}
		if p.PersistentKeepalive > 0 {
			ps.Keepalive = p.PersistentKeepalive.String()
		}
		if resolve && p.Endpoint != "" {
			addr, err := engine.ResolveEndpoint(ctx, net.DefaultResolver, p.Endpoint)
			if err != nil {
				return profileSummary{}, err
			}
			ps.Resolved = addr.String()
		}
		s.Peers = append(s.Peers, ps)
	}
	return s, nil
}

func check(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	b := e.builder(checkProfile)
	cfg, err := b.Build(ctx)
	if err != nil {
		return err
	}

	s, err := summarize(ctx, b.Path, cfg, checkResolve)
	if err != nil {
		return err
	}
	return jsonhelper.NewLines(cmd.OutOrStdout()).Write(s)
}

func init() {
	checkCmd.Flags().StringVarP(&checkProfile, "profile", "p", "", "tunnel profile (.toml or wg-quick .conf)")
	checkCmd.Flags().BoolVar(&checkResolve, "resolve", false, "also resolve peer endpoints")
	rootCmd.AddCommand(checkCmd)
}
