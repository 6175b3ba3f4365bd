// Package profile builds TunnelConfig values from injected sources: TOML
// profiles, wg-quick files and key references into the keyring, the
// environment or sealed blobs.
package profile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	toml2 "github.com/pelletier/go-toml/v2"

	"wgsession/internal/models"
)

// Builder produces the config for one start attempt.
type Builder interface {
	Build(ctx context.Context) (models.TunnelConfig, error)
}

// FileBuilder reads the profile at Path on every Build, so edits apply to the
// next start. Files ending in .conf are read as wg-quick configs, anything
// else as TOML.
type FileBuilder struct {
	Path string
	Keys KeyResolver
}

func (b *FileBuilder) Build(ctx context.Context) (models.TunnelConfig, error) {
	if err := ctx.Err(); err != nil {
		return models.TunnelConfig{}, err
	}

	data, err := os.ReadFile(b.Path)
	if err != nil {
		return models.TunnelConfig{}, fmt.Errorf("%w: read profile: %v", models.ErrConfigInvalid, err)
	}

	var f File
	if strings.EqualFold(filepath.Ext(b.Path), ".conf") {
		f, err = ParseWGQuick(bytes.NewReader(data))
	} else {
		f, err = ParseTOML(data)
	}
	if err != nil {
		return models.TunnelConfig{}, err
	}

	keys := b.Keys
	if keys.BaseDir == "" {
		keys.BaseDir = filepath.Dir(b.Path)
	}
	return f.TunnelConfig(keys)
}

// ParseTOML decodes a profile strictly: keys the File layout does not know
// are rejected instead of silently ignored.
func ParseTOML(data []byte) (File, error) {
	var f File
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", models.ErrConfigInvalid, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		names := make([]string, len(undecoded))
		for i, k := range undecoded {
			names[i] = k.String()
		}
		return File{}, fmt.Errorf("%w: unknown keys %s", models.ErrConfigInvalid, strings.Join(names, ", "))
	}
	return f, nil
}

// Static hands out a fixed config. Useful for embedding and tests.
type Static struct {
	Config models.TunnelConfig
}

func (s Static) Build(ctx context.Context) (models.TunnelConfig, error) {
	if err := ctx.Err(); err != nil {
		return models.TunnelConfig{}, err
	}
	cfg := s.Config.Normalize()
	if err := cfg.Validate(); err != nil {
		return models.TunnelConfig{}, err
	}
	return cfg, nil
}

// Template returns a starter profile that routes everything through one peer.
func Template(endpoint, peerPublicKey, keyRef string) File {
	if keyRef == "" {
		keyRef = schemeKeyring + DefaultKeyAccount
	}
	return File{
		Name: models.DefaultName,
		Interface: InterfaceFile{
			Address:    []string{"10.0.0.20/32"},
			MTU:        models.DefaultMTU,
			DNS:        []string{"1.1.1.1"},
			Routes:     []string{"0.0.0.0/0"},
			PrivateKey: keyRef,
		},
		Peers: []PeerFile{{
			PublicKey:  peerPublicKey,
			Endpoint:   endpoint,
			AllowedIPs: []string{"0.0.0.0/0"},
		}},
	}
}

// Marshal renders f as TOML.
func Marshal(f File) ([]byte, error) {
	return toml2.Marshal(f)
}

// WriteFile writes f to path with owner-only permissions. An existing file
// is left alone unless overwrite is set.
func WriteFile(path string, f File, overwrite bool) error {
	data, err := Marshal(f)
	if err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	out, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
