package tun

import (
	"context"
	"fmt"
	"net/netip"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Runner executes one system command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// step is one configuration command and the command that reverts it.
// Best-effort steps log their failure instead of aborting setup.
type step struct {
	up         []string
	down       []string
	bestEffort bool
}

// NetworkManager applies interface settings and reverts them in reverse
// order on Cleanup.
type NetworkManager struct {
	run     Runner
	steps   []step
	applied []step
	mu      sync.Mutex
}

func NewNetworkManager(goos string, s Settings, run Runner) (*NetworkManager, error) {
	if run == nil {
		run = execRunner
	}
	var steps []step
	switch goos {
	case "linux":
		steps = linuxPlan(s)
	case "darwin":
		steps = darwinPlan(s)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, goos)
	}
	return &NetworkManager{run: run, steps: steps}, nil
}

func (nm *NetworkManager) Setup(ctx context.Context) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	for _, st := range nm.steps {
		if out, err := nm.run(ctx, st.up[0], st.up[1:]...); err != nil {
			if st.bestEffort {
				log.WithError(err).Warnf("Skipping %q: %s", strings.Join(st.up, " "), strings.TrimSpace(string(out)))
				continue
			}
			return fmt.Errorf("%s: %w: %s", strings.Join(st.up, " "), err, strings.TrimSpace(string(out)))
		}
		log.Debugf("Applied: %s", strings.Join(st.up, " "))
		nm.applied = append(nm.applied, st)
	}
	return nil
}

// Cleanup never stops at a failed command; everything applied gets a try.
func (nm *NetworkManager) Cleanup(ctx context.Context) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	for i := len(nm.applied) - 1; i >= 0; i-- {
		st := nm.applied[i]
		if st.down == nil {
			continue
		}
		if out, err := nm.run(ctx, st.down[0], st.down[1:]...); err != nil {
			log.WithError(err).Warnf("Revert %q: %s", strings.Join(st.down, " "), strings.TrimSpace(string(out)))
			continue
		}
		log.Debugf("Reverted: %s", strings.Join(st.down, " "))
	}
	nm.applied = nil
}

func family(p netip.Prefix) string {
	if p.Addr().Is4() {
		return "-4"
	}
	return "-6"
}

// linuxPlan follows wg-quick: default routes go into a policy table keyed by
// the fwmark so the engine's marked packets still take the main table.
func linuxPlan(s Settings) []step {
	dev := s.Name
	mark := strconv.Itoa(s.FwMark)

	steps := []step{{up: []string{"ip", "link", "set", "dev", dev, "mtu", strconv.Itoa(s.MTU)}}}
	for _, a := range s.Addresses {
		steps = append(steps, step{up: []string{"ip", family(a), "address", "add", a.String(), "dev", dev}})
	}
	steps = append(steps, step{
		up:   []string{"ip", "link", "set", "dev", dev, "up"},
		down: []string{"ip", "link", "set", "dev", dev, "down"},
	})

	policy := map[string]bool{}
	for _, r := range s.Routes {
		fam := family(r)
		if r.Bits() == 0 && s.FwMark != 0 {
			steps = append(steps, step{up: []string{"ip", fam, "route", "add", r.String(), "dev", dev, "table", mark}})
			if !policy[fam] {
				policy[fam] = true
				steps = append(steps,
					step{
						up:   []string{"ip", fam, "rule", "add", "not", "fwmark", mark, "table", mark},
						down: []string{"ip", fam, "rule", "delete", "table", mark},
					},
					step{
						up:   []string{"ip", fam, "rule", "add", "table", "main", "suppress_prefixlength", "0"},
						down: []string{"ip", fam, "rule", "delete", "table", "main", "suppress_prefixlength", "0"},
					})
			}
			continue
		}
		steps = append(steps, step{
			up:   []string{"ip", fam, "route", "add", r.String(), "dev", dev},
			down: []string{"ip", fam, "route", "delete", r.String(), "dev", dev},
		})
	}

	if len(s.DNS) > 0 {
		up := []string{"resolvectl", "dns", dev}
		for _, d := range s.DNS {
			up = append(up, d.String())
		}
		steps = append(steps,
			step{up: up, down: []string{"resolvectl", "revert", dev}, bestEffort: true},
			step{up: []string{"resolvectl", "domain", dev, "~."}, bestEffort: true},
		)
	}
	return steps
}

// darwinPlan splits default routes into two halves that outrank the
// system default without replacing it.
func darwinPlan(s Settings) []step {
	dev := s.Name
	var steps []step
	for _, a := range s.Addresses {
		if a.Addr().Is4() {
			steps = append(steps, step{up: []string{"ifconfig", dev, "inet", a.String(), a.Addr().String(), "alias"}})
		} else {
			steps = append(steps, step{up: []string{"ifconfig", dev, "inet6", a.Addr().String(), "prefixlen", strconv.Itoa(a.Bits()), "alias"}})
		}
	}
	steps = append(steps, step{
		up:   []string{"ifconfig", dev, "mtu", strconv.Itoa(s.MTU), "up"},
		down: []string{"ifconfig", dev, "down"},
	})

	for _, r := range s.Routes {
		targets := []netip.Prefix{r}
		if r.Bits() == 0 {
			if r.Addr().Is4() {
				targets = []netip.Prefix{netip.MustParsePrefix("0.0.0.0/1"), netip.MustParsePrefix("128.0.0.0/1")}
			} else {
				targets = []netip.Prefix{netip.MustParsePrefix("::/1"), netip.MustParsePrefix("8000::/1")}
			}
		}
		for _, t := range targets {
			fam := "-inet"
			if !t.Addr().Is4() {
				fam = "-inet6"
			}
			steps = append(steps, step{
				up:   []string{"route", "-q", "-n", "add", fam, t.String(), "-interface", dev},
				down: []string{"route", "-q", "-n", "delete", fam, t.String(), "-interface", dev},
			})
		}
	}

	if len(s.DNS) > 0 {
		log.WithField("interface", dev).Warn("DNS servers are not applied on macOS; configure them in System Settings")
	}
	return steps
}
