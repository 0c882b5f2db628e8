// Copyright 2025 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package virsh locates the DHCP-leased address of a freshly provisioned
// lab appliance by driving virsh on the hypervisor over a remote command
// channel. The lab id is not visible in hypervisor-level DHCP state, so
// the binding goes through the domain's interface MAC addresses: find the
// domain whose XML mentions the lab id, collect its MACs, then poll the
// DHCP lease table until one of them holds a lease.
package virsh

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/labenv/internal/util/logging"
	"github.com/alexandremahdhaoui/labenv/internal/util/ssh"
	"github.com/alexandremahdhaoui/labenv/pkg/execcontext"
	"github.com/alexandremahdhaoui/labenv/pkg/poll"
	"libvirt.org/go/libvirtxml"
)

var (
	// ErrDomainNotFound indicates no domain mentioned the lab id within
	// the attempt budget.
	ErrDomainNotFound = errors.New("could not find the lab domain")
	// ErrMalformedDomain indicates the matched domain XML is missing the
	// expected interface/MAC structure.
	ErrMalformedDomain = errors.New("domain has no interface mac addresses")
	// ErrLeaseNotFound indicates no target MAC obtained a lease within
	// the attempt budget.
	ErrLeaseNotFound = errors.New("could not find a dhcp lease")
	// ErrAmbiguousLease indicates more than one target MAC holds a
	// lease; the appliance must present exactly one.
	ErrAmbiguousLease = errors.New("found more than one leased address")
)

// domainIDPattern scrapes running-domain ids from `virsh list --all`
// rows, which start with a single space followed by the numeric id.
var domainIDPattern = regexp.MustCompile(`^\s(\d+)`)

// Config tunes the discovery loops. The defaults encode operational
// experience with CML appliances and are deliberately generous.
type Config struct {
	// WarmupDelay is slept before any polling: the appliance needs time
	// to boot before a lease can possibly exist.
	WarmupDelay time.Duration

	// Domain bounds the search for the lab's hypervisor domain.
	Domain poll.Policy

	// Lease bounds the wait for a DHCP lease. DHCP negotiation is slower
	// than domain creation, hence the larger budget.
	Lease poll.Policy

	// Network is the libvirt network whose lease table is polled.
	Network string

	// Sleep performs the warm-up delay. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		WarmupDelay: 600 * time.Second,
		Domain:      poll.Policy{Attempts: 20, Delay: 5 * time.Second},
		Lease:       poll.Policy{Attempts: 100, Delay: 10 * time.Second},
		Network:     "default",
	}
}

// Locator resolves lab ids to leased IP addresses.
type Locator struct {
	runner ssh.Runner
	cfg    Config
	sudo   execcontext.Context
	log    *slog.Logger
}

// NewLocator creates a Locator executing virsh through the given remote
// runner. Commands run under sudo; lease tables and domain XML require
// elevated privilege.
func NewLocator(runner ssh.Runner, cfg Config) *Locator {
	if cfg.Network == "" {
		cfg.Network = "default"
	}
	return &Locator{
		runner: runner,
		cfg:    cfg,
		sudo:   execcontext.New(nil, []string{"sudo"}),
		log:    logging.ForWorker(),
	}
}

// GetDHCPLease returns the single IP address leased to the domain backing
// the given lab. Zero leases within the budget is ErrLeaseNotFound; more
// than one is ErrAmbiguousLease, never a silent pick.
func (l *Locator) GetDHCPLease(labID string) (string, error) {
	l.waitForBoot()

	dom, raw, err := l.findDomain(labID)
	if err != nil {
		return "", err
	}

	macs, err := interfaceMACs(dom, raw)
	if err != nil {
		return "", err
	}
	l.log.Info("found macs", "macs", macs)

	ips, err := l.awaitLeases(macs)
	if err != nil {
		return "", err
	}
	l.log.Debug("found ips", "ips", ips)

	if len(ips) > 1 {
		return "", fmt.Errorf("%w: %s", ErrAmbiguousLease, strings.Join(ips, ", "))
	}

	return ips[0], nil
}

func (l *Locator) waitForBoot() {
	if l.cfg.WarmupDelay <= 0 {
		return
	}
	l.log.Info("waiting for the appliance to boot", "delay", l.cfg.WarmupDelay)
	sleep := l.cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	sleep(l.cfg.WarmupDelay)
}

// findDomain lists all domains and dumps each one's XML until a dump
// contains the lab id as a substring. First match in listing order wins.
func (l *Locator) findDomain(labID string) (*libvirtxml.Domain, string, error) {
	l.log.Info("getting current lab from virsh")

	var (
		dom *libvirtxml.Domain
		raw string
	)
	err := l.cfg.Domain.Until(func(attempt int) (bool, error) {
		l.log.Info("domain discovery attempt", "attempt", attempt)

		stdout, _, err := l.run("virsh", "list", "--all")
		if err != nil {
			return false, err
		}

		for _, id := range domainIDs(stdout) {
			dump, _, err := l.run("virsh", "dumpxml", id)
			if err != nil {
				return false, err
			}
			if !strings.Contains(dump, labID) {
				continue
			}

			l.log.Debug("found lab in domain xml", "lab", labID, "domain", id)
			parsed := &libvirtxml.Domain{}
			if err := parsed.Unmarshal(dump); err != nil {
				return false, fmt.Errorf("parsing domain %s xml: %w: %s", id, err, dump)
			}
			dom = parsed
			raw = dump
			return true, nil
		}

		return false, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return nil, "", errors.Join(err, ErrDomainNotFound)
	}
	if err != nil {
		return nil, "", err
	}

	return dom, raw, nil
}

// awaitLeases polls the lease table until at least one target MAC holds a
// lease, returning one IP per leased MAC in macs order.
func (l *Locator) awaitLeases(macs []string) ([]string, error) {
	l.log.Info("getting a dhcp lease", "macs", macs)

	var ips []string
	err := l.cfg.Lease.Until(func(attempt int) (bool, error) {
		l.log.Info("dhcp lease attempt", "attempt", attempt)

		stdout, _, err := l.run("virsh", "net-dhcp-leases", l.cfg.Network)
		if err != nil {
			return false, err
		}

		leases := parseLeases(stdout)
		ips = ips[:0]
		for _, mac := range macs {
			if ip, ok := leases[mac]; ok {
				ips = append(ips, ip)
			}
		}
		return len(ips) > 0, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return nil, errors.Join(err, ErrLeaseNotFound)
	}
	if err != nil {
		return nil, err
	}

	return ips, nil
}

func (l *Locator) run(cmd ...string) (string, string, error) {
	return l.runner.Execute(execcontext.FormatCmd(l.sudo, cmd...))
}

func domainIDs(stdout string) []string {
	ids := []string{}
	for _, line := range strings.Split(stdout, "\n") {
		if m := domainIDPattern.FindStringSubmatch(line); m != nil {
			ids = append(ids, m[1])
		}
	}
	return ids
}

// interfaceMACs extracts every interface MAC from the domain descriptor.
// The expected shape is domain.devices.interface[*].mac.@address; its
// absence is fatal, and the raw XML travels with the error for diagnosis.
func interfaceMACs(dom *libvirtxml.Domain, raw string) ([]string, error) {
	if dom.Devices == nil || len(dom.Devices.Interfaces) == 0 {
		return nil, fmt.Errorf("%w: domain %q: %s", ErrMalformedDomain, dom.Name, raw)
	}

	macs := make([]string, 0, len(dom.Devices.Interfaces))
	for _, iface := range dom.Devices.Interfaces {
		if iface.MAC == nil || iface.MAC.Address == "" {
			return nil, fmt.Errorf("%w: domain %q: %s", ErrMalformedDomain, dom.Name, raw)
		}
		macs = append(macs, iface.MAC.Address)
	}

	return macs, nil
}
