// Package consent decides whether the user has allowed the application to
// take over system networking, and asks when they have not.
package consent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
)

// Gate answers Check without user interaction. Request may prompt and
// returns the user's answer.
type Gate interface {
	Check(ctx context.Context) (bool, error)
	Request(ctx context.Context) (bool, error)
}

// Prompter asks the user a yes/no question.
type Prompter interface {
	Confirm(ctx context.Context, title, message string) (bool, error)
}

type PrompterFunc func(ctx context.Context, title, message string) (bool, error)

func (f PrompterFunc) Confirm(ctx context.Context, title, message string) (bool, error) {
	return f(ctx, title, message)
}

// Always grants without asking.
type Always struct{}

func (Always) Check(context.Context) (bool, error)   { return true, nil }
func (Always) Request(context.Context) (bool, error) { return true, nil }

// Record is the persisted approval.
type Record struct {
	Scope     string    `toml:"scope"`
	GrantedAt time.Time `toml:"granted_at"`
}

// Remembered asks once and keeps the approval in a TOML file at Path.
// A refusal is not remembered, so the next start asks again.
type Remembered struct {
	Path     string
	Scope    string
	Title    string
	Message  string
	Prompter Prompter

	mu sync.Mutex
}

func (r *Remembered) Check(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.granted()
}

func (r *Remembered) granted() (bool, error) {
	rec, err := r.load()
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Scope == r.Scope, nil
}

func (r *Remembered) Request(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ok, err := r.granted(); err == nil && ok {
		return true, nil
	}
	if r.Prompter == nil {
		return false, nil
	}

	ok, err := r.Prompter.Confirm(ctx, r.Title, r.Message)
	if err != nil || !ok {
		return false, err
	}
	if err := r.save(Record{Scope: r.Scope, GrantedAt: time.Now().UTC()}); err != nil {
		// The answer still counts for this start.
		log.WithError(err).Warn("Could not remember approval")
	}
	return true, nil
}

// Revoke forgets a stored approval.
func (r *Remembered) Revoke() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := os.Remove(r.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Stored returns the approval on disk, if any.
func (r *Remembered) Stored() (Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.load()
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	return rec, err == nil, err
}

func (r *Remembered) load() (Record, error) {
	var rec Record
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return rec, err
	}
	if err := toml.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("read approval %s: %w", r.Path, err)
	}
	return rec, nil
}

func (r *Remembered) save(rec Record) error {
	data, err := toml.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(r.Path, data, 0o600)
}
