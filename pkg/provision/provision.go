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

// Package provision composes the lab controller and the hypervisor lease
// locator into a single acquire/release lifecycle: bring the lab up,
// resolve the appliance's DHCP address, and guarantee teardown on every
// exit path, including failed acquisition.
package provision

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/alexandremahdhaoui/labenv/internal/util/logging"
	"github.com/alexandremahdhaoui/labenv/internal/util/ssh"
	"github.com/alexandremahdhaoui/labenv/pkg/cml"
	"github.com/alexandremahdhaoui/labenv/pkg/virsh"
)

// ErrAcquire indicates the environment never came up. Teardown failures
// are reported as cml.ErrCleanup, joined alongside when both happen, so
// callers can tell "never came up" from "came up but failed to tear
// down".
var ErrAcquire = errors.New("failed to provision the lab environment")

// Config carries everything needed to provision one lab.
type Config struct {
	// LabFile is the lab topology definition handed to the lab CLI.
	LabFile string

	// Host is the lab controller, reached both by the lab CLI (HTTPS)
	// and by SSH for virsh.
	Host string

	// UIUser and UIPassword authenticate the lab CLI.
	UIUser     string
	UIPassword string

	// SSHUser, SSHPassword and SSHPort authenticate the remote command
	// channel to the hypervisor.
	SSHUser     string
	SSHPassword string
	SSHPort     int

	// Virsh tunes address discovery.
	Virsh virsh.Config
}

// Channel is the remote command channel to the hypervisor.
type Channel interface {
	ssh.Runner
	Connect() error
	Close()
}

// Environment is a provisioned lab with a resolved appliance address.
type Environment struct {
	// Address is the appliance's DHCP-leased IP address.
	Address string
	// LabID identifies the lab on the controller.
	LabID string
	// Existed is true when the lab was adopted rather than created.
	Existed bool

	lab      *cml.Client
	released bool
}

// Release removes the lab unless it pre-existed. Failures wrap
// cml.ErrCleanup and leave the handle retryable; once removal succeeds,
// further calls are no-ops.
func (e *Environment) Release() error {
	if e.released {
		return nil
	}
	if err := e.lab.Remove(); err != nil {
		return err
	}
	e.released = true
	return nil
}

// Provisioner acquires lab environments.
type Provisioner struct {
	cfg     Config
	lab     *cml.Client
	channel Channel
	log     *slog.Logger
}

// Option overrides a collaborator, primarily for tests.
type Option func(*Provisioner)

// WithLabRunner substitutes the subprocess running the lab CLI.
func WithLabRunner(r cml.Runner) Option {
	return func(p *Provisioner) {
		p.lab = cml.NewClientWithRunner(p.cfg.Host, r)
	}
}

// WithChannel substitutes the remote command channel.
func WithChannel(ch Channel) Option {
	return func(p *Provisioner) {
		p.channel = ch
	}
}

// New creates a Provisioner wired to the real lab CLI and a real SSH
// channel.
func New(cfg Config, opts ...Option) *Provisioner {
	p := &Provisioner{
		cfg:     cfg,
		lab:     cml.NewClient(cfg.Host, cfg.UIUser, cfg.UIPassword),
		channel: ssh.NewClient(cfg.Host, cfg.SSHUser, cfg.SSHPassword, cfg.SSHPort),
		log:     logging.ForWorker().With("run", uuid.NewString()[:8]),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire brings the lab up and resolves the appliance address. The
// remote channel is always released before returning. If anything fails
// after the lab was brought up, the lab is removed best-effort and the
// cleanup outcome travels with the acquisition error, never in place of
// it.
func (p *Provisioner) Acquire() (*Environment, error) {
	p.log.Info("starting lab provisioning")
	start := time.Now()

	if _, err := os.Stat(p.cfg.LabFile); err != nil {
		return nil, errors.Join(fmt.Errorf("missing lab file %q: %w", p.cfg.LabFile, err), ErrAcquire)
	}

	if err := p.lab.BringUp(p.cfg.LabFile); err != nil {
		return nil, errors.Join(err, ErrAcquire)
	}

	if err := p.channel.Connect(); err != nil {
		return nil, p.abort(err)
	}

	locator := virsh.NewLocator(p.channel, p.cfg.Virsh)
	address, err := locator.GetDHCPLease(p.lab.ID)
	p.channel.Close()
	if err != nil {
		return nil, p.abort(fmt.Errorf("failed to get a DHCP lease for the appliance: %w", err))
	}

	p.log.Info("provisioned lab",
		"id", p.lab.ID,
		"address", address,
		"elapsed", time.Since(start).Round(time.Second).String(),
	)

	return &Environment{
		Address: address,
		LabID:   p.lab.ID,
		Existed: p.lab.Existed,
		lab:     p.lab,
	}, nil
}

// abort tears the half-provisioned lab down after a failed acquisition.
func (p *Provisioner) abort(cause error) error {
	p.channel.Close()
	err := errors.Join(cause, ErrAcquire)
	if cleanupErr := p.lab.Remove(); cleanupErr != nil {
		err = errors.Join(err, cleanupErr)
	}
	return err
}
