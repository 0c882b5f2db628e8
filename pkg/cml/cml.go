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

// Package cml wraps the CML lab-orchestration CLI. It brings a lab up
// from a topology file (or adopts one that is already running), scrapes
// the lab id out of the tool's text output, and removes the lab on
// teardown.
package cml

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/alexandremahdhaoui/labenv/internal/util/logging"
)

var (
	// ErrNoLabID indicates the CLI output did not contain a lab id.
	ErrNoLabID = errors.New("could not extract lab id")
	// ErrCleanup indicates lab removal failed. Callers use it to tell
	// teardown failures apart from acquisition failures.
	ErrCleanup = errors.New("lab removal failed")
)

// labIDPattern scrapes the lab id out of CLI output such as
// "Starting lab topo.yaml (ID: 9fde5f)\n". The scrape fails closed: any
// deviation from this exact shape is an error, never a guess.
var labIDPattern = regexp.MustCompile(`(?s)^.*ID: (\S+)\)\n`)

// Client drives the cml CLI for a single lab.
type Client struct {
	// ID is the current lab identifier, set by BringUp.
	ID string
	// Existed is true when BringUp adopted a lab that was already
	// running. Such labs are never removed by this client.
	Existed bool

	host   string
	runner Runner
	log    *slog.Logger
}

// NewClient creates a client running the real cml CLI authenticated
// against the given controller.
func NewClient(host, username, password string) *Client {
	return NewClientWithRunner(host, NewRunner(host, username, password))
}

// NewClientWithRunner creates a client on an explicit runner. Used by
// tests to substitute the subprocess.
func NewClientWithRunner(host string, runner Runner) *Client {
	return &Client{
		host:   host,
		runner: runner,
		log:    logging.ForWorker(),
	}
}

// BringUp starts the lab described by file, unless a lab is already
// provisioned, in which case its id is adopted and Existed is set. The
// new lab id is recorded for CI orphan reaping when running under GitHub
// Actions.
func (c *Client) BringUp(file string) error {
	c.log.Info("checking whether a lab is already provisioned")

	stdout, _, err := c.runner.Run("id")
	if err != nil {
		return err
	}
	if id, ok := matchLabID(stdout); ok {
		c.ID = id
		c.Existed = true
		c.log.Info("using existing lab", "id", c.ID)
		return nil
	}

	c.log.Info("no lab currently provisioned")
	c.log.Info("bringing up lab", "file", file, "host", c.host)

	// Starting lab xxx (ID: 9fde5f)\n
	stdout, stderr, err := c.runner.Run("up", "-f", file)
	if err != nil {
		return err
	}
	c.log.Debug("cml up", "stdout", stdout)

	id, ok := matchLabID(stdout)
	if !ok {
		return fmt.Errorf("%w: stdout=%q stderr=%q", ErrNoLabID, stdout, stderr)
	}
	c.ID = id
	c.log.Info("started lab", "id", c.ID)

	if err := recordLabID(c.ID); err != nil {
		c.log.Warn("could not record lab id for CI cleanup", "err", err.Error())
	}

	return nil
}

// Remove tears the lab down. Labs that existed before BringUp are never
// destroyed; a reminder is logged instead. Removal errors are reported
// wrapped in ErrCleanup but must not mask the caller's own outcome.
func (c *Client) Remove() error {
	if c.Existed {
		c.log.Info("please remember to remove lab", "id", c.ID)
		return nil
	}

	c.log.Info("deleting lab", "id", c.ID, "host", c.host)

	stdout, _, err := c.runner.Run("use", "--id", c.ID)
	if err != nil {
		c.log.Error("selecting lab for removal failed", "id", c.ID, "err", err.Error())
		return errors.Join(err, ErrCleanup)
	}
	c.log.Debug("cml use", "stdout", stdout)

	stdout, _, err = c.runner.Run("rm", "--force", "--no-confirm")
	if err != nil {
		c.log.Error("removing lab failed", "id", c.ID, "err", err.Error())
		return errors.Join(err, ErrCleanup)
	}
	c.log.Debug("cml rm", "stdout", stdout)

	return nil
}

func matchLabID(stdout string) (string, bool) {
	if strings.TrimSpace(stdout) == "" {
		return "", false
	}
	m := labIDPattern.FindStringSubmatch(stdout)
	if m == nil {
		return "", false
	}
	return m[1], true
}
