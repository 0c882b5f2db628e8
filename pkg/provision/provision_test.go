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

package provision_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/labenv/pkg/cml"
	"github.com/alexandremahdhaoui/labenv/pkg/poll"
	"github.com/alexandremahdhaoui/labenv/pkg/provision"
	"github.com/alexandremahdhaoui/labenv/pkg/virsh"
)

// fakeLabRunner scripts the cml CLI.
type fakeLabRunner struct {
	responses map[string][2]string // joined args -> stdout, stderr
	errs      map[string]error
	calls     []string
}

func (f *fakeLabRunner) Run(args ...string) (string, string, error) {
	call := strings.Join(args, " ")
	f.calls = append(f.calls, call)
	r := f.responses[call]
	return r[0], r[1], f.errs[call]
}

// fakeChannel scripts the hypervisor side.
type fakeChannel struct {
	connectErr error
	execute    func(cmd string) (string, string, error)

	connects int
	closes   int
}

func (f *fakeChannel) Connect() error { f.connects++; return f.connectErr }
func (f *fakeChannel) Close()         { f.closes++ }

func (f *fakeChannel) Execute(cmd string) (string, string, error) {
	return f.execute(cmd)
}

const domainDump = "<domain type='kvm' id='1'>" +
	"<name>rtr</name><title>lab (ID: 9fde5f)</title>" +
	"<devices><interface type='network'><mac address='52:54:00:AA'/></interface></devices>" +
	"</domain>"

func hypervisor(leaseOutput string) *fakeChannel {
	return &fakeChannel{execute: func(cmd string) (string, string, error) {
		switch {
		case strings.Contains(cmd, `"list" "--all"`):
			return " 1   rtr   running\n", "", nil
		case strings.Contains(cmd, `"dumpxml"`):
			return domainDump, "", nil
		case strings.Contains(cmd, `"net-dhcp-leases"`):
			return leaseOutput, "", nil
		}
		return "", "", errors.New("unexpected command: " + cmd)
	}}
}

func testConfig(t *testing.T) provision.Config {
	t.Helper()

	labFile := filepath.Join(t.TempDir(), "topo.yaml")
	require.NoError(t, os.WriteFile(labFile, []byte("lab:\n"), 0o644))

	return provision.Config{
		LabFile:     labFile,
		Host:        "cml.example.com",
		UIUser:      "admin",
		UIPassword:  "secret",
		SSHUser:     "sysadmin",
		SSHPassword: "secret",
		SSHPort:     1122,
		Virsh: virsh.Config{
			Domain: poll.Policy{Attempts: 2, Sleep: func(time.Duration) {}},
			Lease:  poll.Policy{Attempts: 2, Sleep: func(time.Duration) {}},
		},
	}
}

func TestAcquire(t *testing.T) {
	cfg := testConfig(t)
	lab := &fakeLabRunner{responses: map[string][2]string{
		"up -f " + cfg.LabFile: {"Starting lab (ID: 9fde5f)\n", ""},
	}}
	ch := hypervisor("a b 52:54:00:AA d 10.0.0.5/24 f g\n")

	p := provision.New(cfg, provision.WithLabRunner(lab), provision.WithChannel(ch))
	env, err := p.Acquire()

	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", env.Address)
	assert.Equal(t, "9fde5f", env.LabID)
	assert.False(t, env.Existed)
	assert.Equal(t, 1, ch.connects)
	// the channel is released even on success
	assert.GreaterOrEqual(t, ch.closes, 1)

	require.NoError(t, env.Release())
	assert.Contains(t, lab.calls, "use --id 9fde5f")
	assert.Contains(t, lab.calls, "rm --force --no-confirm")

	// releasing twice is a no-op
	calls := len(lab.calls)
	require.NoError(t, env.Release())
	assert.Len(t, lab.calls, calls)
}

func TestAcquire_AdoptedLabIsNeverRemoved(t *testing.T) {
	cfg := testConfig(t)
	lab := &fakeLabRunner{responses: map[string][2]string{
		"id": {"Lab topo (ID: 9fde5f)\n", ""},
	}}
	ch := hypervisor("a b 52:54:00:AA d 10.0.0.5/24 f g\n")

	env, err := provision.New(cfg, provision.WithLabRunner(lab), provision.WithChannel(ch)).Acquire()

	require.NoError(t, err)
	assert.True(t, env.Existed)

	require.NoError(t, env.Release())
	for _, call := range lab.calls {
		assert.NotContains(t, call, "rm")
	}
}

func TestAcquire_MissingLabFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.LabFile = filepath.Join(t.TempDir(), "absent.yaml")
	lab := &fakeLabRunner{responses: map[string][2]string{}}
	ch := hypervisor("")

	_, err := provision.New(cfg, provision.WithLabRunner(lab), provision.WithChannel(ch)).Acquire()

	require.ErrorIs(t, err, provision.ErrAcquire)
	assert.Empty(t, lab.calls)
	assert.Equal(t, 0, ch.connects)
}

func TestAcquire_BringUpFailure(t *testing.T) {
	cfg := testConfig(t)
	lab := &fakeLabRunner{responses: map[string][2]string{
		"up -f " + cfg.LabFile: {"garbage", "broken"},
	}}
	ch := hypervisor("")

	_, err := provision.New(cfg, provision.WithLabRunner(lab), provision.WithChannel(ch)).Acquire()

	require.ErrorIs(t, err, provision.ErrAcquire)
	require.ErrorIs(t, err, cml.ErrNoLabID)
	// nothing to tear down: the lab never came up
	assert.Equal(t, 0, ch.connects)
	for _, call := range lab.calls {
		assert.NotContains(t, call, "rm")
	}
}

func TestAcquire_ConnectFailureTearsLabDown(t *testing.T) {
	cfg := testConfig(t)
	lab := &fakeLabRunner{responses: map[string][2]string{
		"up -f " + cfg.LabFile: {"Starting lab (ID: 9fde5f)\n", ""},
	}}
	ch := hypervisor("")
	ch.connectErr = errors.New("auth failed")

	_, err := provision.New(cfg, provision.WithLabRunner(lab), provision.WithChannel(ch)).Acquire()

	require.ErrorIs(t, err, provision.ErrAcquire)
	assert.Contains(t, lab.calls, "use --id 9fde5f")
	assert.Contains(t, lab.calls, "rm --force --no-confirm")
}

func TestAcquire_LeaseFailureTearsLabDown(t *testing.T) {
	cfg := testConfig(t)
	lab := &fakeLabRunner{responses: map[string][2]string{
		"up -f " + cfg.LabFile: {"Starting lab (ID: 9fde5f)\n", ""},
	}}
	ch := hypervisor("") // lease table stays empty

	_, err := provision.New(cfg, provision.WithLabRunner(lab), provision.WithChannel(ch)).Acquire()

	require.ErrorIs(t, err, provision.ErrAcquire)
	require.ErrorIs(t, err, virsh.ErrLeaseNotFound)
	assert.Contains(t, lab.calls, "rm --force --no-confirm")
	assert.GreaterOrEqual(t, ch.closes, 1)
}

func TestRelease_RetryAfterFailedRemoval(t *testing.T) {
	cfg := testConfig(t)
	lab := &fakeLabRunner{
		responses: map[string][2]string{
			"up -f " + cfg.LabFile: {"Starting lab (ID: 9fde5f)\n", ""},
		},
		errs: map[string]error{
			"use --id 9fde5f": errors.New("controller unreachable"),
		},
	}
	ch := hypervisor("a b 52:54:00:AA d 10.0.0.5/24 f g\n")

	env, err := provision.New(cfg, provision.WithLabRunner(lab), provision.WithChannel(ch)).Acquire()
	require.NoError(t, err)

	require.ErrorIs(t, env.Release(), cml.ErrCleanup)

	// the controller came back; the same handle retries the removal
	delete(lab.errs, "use --id 9fde5f")
	require.NoError(t, env.Release())
	assert.Contains(t, lab.calls, "rm --force --no-confirm")

	// a successful release latches; further calls are no-ops
	calls := len(lab.calls)
	require.NoError(t, env.Release())
	assert.Len(t, lab.calls, calls)
}

func TestAcquire_CleanupFailureIsReportedDistinctly(t *testing.T) {
	cfg := testConfig(t)
	lab := &fakeLabRunner{
		responses: map[string][2]string{
			"up -f " + cfg.LabFile: {"Starting lab (ID: 9fde5f)\n", ""},
		},
		errs: map[string]error{
			"use --id 9fde5f": errors.New("controller unreachable"),
		},
	}
	ch := hypervisor("") // lease discovery will fail

	_, err := provision.New(cfg, provision.WithLabRunner(lab), provision.WithChannel(ch)).Acquire()

	// the environment never came up AND teardown failed; both are visible
	require.ErrorIs(t, err, provision.ErrAcquire)
	require.ErrorIs(t, err, virsh.ErrLeaseNotFound)
	require.ErrorIs(t, err, cml.ErrCleanup)
}
