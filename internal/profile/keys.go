package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgsession/internal/models"
	"wgsession/internal/security"
)

const (
	DefaultKeyringService = "wgsession"
	DefaultKeyAccount     = "default"
	PassphraseEnv         = "WGSESSION_PASSPHRASE"

	schemeKeyring = "keyring:"
	schemeEnv     = "env:"
	schemeFile    = "file:"
	schemeSealed  = "sealed:"
)

// KeyResolver turns a key reference from a profile into key material.
//
//	keyring:<account>  OS secret store, service KeyringService
//	env:<VAR>          environment variable holding a base64 key
//	file:<path>        file holding a base64 key (relative to BaseDir)
//	sealed:<blob>      passphrase-sealed key, passphrase from Passphrase()
//	<base64>           literal key, accepted with a warning
type KeyResolver struct {
	KeyringService string
	BaseDir        string
	LookupEnv      func(string) (string, bool)
	Passphrase     func() (string, error)
}

func (r KeyResolver) service() string {
	if r.KeyringService == "" {
		return DefaultKeyringService
	}
	return r.KeyringService
}

func (r KeyResolver) lookupEnv(name string) (string, bool) {
	if r.LookupEnv != nil {
		return r.LookupEnv(name)
	}
	return os.LookupEnv(name)
}

func (r KeyResolver) passphrase() (string, error) {
	if r.Passphrase != nil {
		return r.Passphrase()
	}
	if v, ok := r.lookupEnv(PassphraseEnv); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("sealed key needs a passphrase in $%s", PassphraseEnv)
}

// Resolve returns the key behind ref. field names the profile field for error messages.
func (r KeyResolver) Resolve(field, ref string) (wgtypes.Key, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return wgtypes.Key{}, fmt.Errorf("%w: %s is empty", models.ErrConfigInvalid, field)
	}

	raw, err := r.lookup(field, ref)
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("%w: %s: %v", models.ErrConfigInvalid, field, err)
	}

	k, err := wgtypes.ParseKey(strings.TrimSpace(raw))
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("%w: %s: %v", models.ErrConfigInvalid, field, err)
	}
	return k, nil
}

func (r KeyResolver) lookup(field, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, schemeKeyring):
		account := strings.TrimPrefix(ref, schemeKeyring)
		if account == "" {
			account = DefaultKeyAccount
		}
		v, err := keyring.Get(r.service(), account)
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("no key %q in keyring service %q", account, r.service())
		}
		return v, err

	case strings.HasPrefix(ref, schemeEnv):
		name := strings.TrimPrefix(ref, schemeEnv)
		v, ok := r.lookupEnv(name)
		if !ok || v == "" {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return v, nil

	case strings.HasPrefix(ref, schemeFile):
		path := strings.TrimPrefix(ref, schemeFile)
		if !filepath.IsAbs(path) && r.BaseDir != "" {
			path = filepath.Join(r.BaseDir, path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(b), nil

	case strings.HasPrefix(ref, schemeSealed):
		pass, err := r.passphrase()
		if err != nil {
			return "", err
		}
		cm, err := security.NewCryptoManager(pass)
		if err != nil {
			return "", err
		}
		return cm.Decrypt(strings.TrimPrefix(ref, schemeSealed))

	default:
		log.WithField("field", field).Warn("Key stored in plain text in the profile; prefer keyring: or sealed:")
		return ref, nil
	}
}

// StoreKey saves k in the OS keyring so that keyring:<account> resolves to it.
func StoreKey(service, account string, k wgtypes.Key) error {
	if service == "" {
		service = DefaultKeyringService
	}
	if account == "" {
		account = DefaultKeyAccount
	}
	return keyring.Set(service, account, k.String())
}

// DeleteKey removes a stored key. Deleting a missing key is not an error.
func DeleteKey(service, account string) error {
	if service == "" {
		service = DefaultKeyringService
	}
	if account == "" {
		account = DefaultKeyAccount
	}
	err := keyring.Delete(service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// SealKey encrypts k with pass and returns a sealed: reference.
func SealKey(pass string, k wgtypes.Key) (string, error) {
	cm, err := security.NewCryptoManager(pass)
	if err != nil {
		return "", err
	}
	blob, err := cm.Encrypt(k.String())
	if err != nil {
		return "", err
	}
	return schemeSealed + blob, nil
}
