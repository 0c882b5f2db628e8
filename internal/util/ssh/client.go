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

package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/alexandremahdhaoui/labenv/internal/util/logging"
	"golang.org/x/crypto/ssh"
)

var (
	// ErrConnection indicates transport or authentication failure.
	ErrConnection = errors.New("ssh connection failed")
	// ErrExecute indicates the remote command itself failed.
	ErrExecute = errors.New("remote command failed")
)

// Client implements the Runner interface over a persistent SSH
// connection. The connection is established with password authentication
// only; lab hypervisors have no enrolled host keys and no authorized
// public keys, so host-key verification and key lookup are disabled.
//
// A Client holds at most one connection and is not safe for concurrent
// use: one in-flight command at a time.
type Client struct {
	Host     string
	User     string
	Password string
	Port     int

	// DialTimeout bounds the TCP/auth handshake. Defaults to 10s.
	DialTimeout time.Duration

	conn *ssh.Client
	log  *slog.Logger
}

// NewClient creates a new SSH client. The connection is established
// lazily by Connect or the first Execute.
func NewClient(host, user, password string, port int) *Client {
	return &Client{
		Host:        host,
		User:        user,
		Password:    password,
		Port:        port,
		DialTimeout: 10 * time.Second,
		log:         logging.ForWorker(),
	}
}

// Connect establishes the SSH connection.
func (c *Client) Connect() error {
	config := &ssh.ClientConfig{
		User: c.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(c.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // lab hypervisors present unverifiable host keys
		Timeout:         c.DialTimeout,
	}

	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	c.log.Info("connecting", "host", c.Host, "port", c.Port)

	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return errors.Join(fmt.Errorf("unable to connect to %s: %w", addr, err), ErrConnection)
	}

	c.conn = conn
	return nil
}

// Execute runs a command in a fresh session on the held connection. A
// connection found dead is closed and redialed exactly once before the
// command runs; there is no further retry at this layer.
func (c *Client) Execute(command string) (stdout, stderr string, err error) {
	if !c.alive() {
		c.Close()
		if err := c.Connect(); err != nil {
			return "", "", err
		}
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return "", "", errors.Join(fmt.Errorf("unable to create SSH session: %w", err), ErrConnection)
	}
	defer runFuncAndLogErr(session.Close)

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	c.log.Info("executing remote command", "command", command, "host", c.Host)

	if err := session.Run(command); err != nil {
		return stdoutBuf.String(), stderrBuf.String(), errors.Join(err, ErrExecute)
	}

	return stdoutBuf.String(), stderrBuf.String(), nil
}

// Close releases the connection. It is idempotent and best-effort:
// closing an already-closed or never-opened client is not an error.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	runFuncAndLogErr(c.conn.Close)
	c.conn = nil
}

// alive reports whether the held connection still answers a keepalive
// request. A nil connection is dead.
func (c *Client) alive() bool {
	if c.conn == nil {
		return false
	}
	_, _, err := c.conn.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

func runFuncAndLogErr(f func() error) {
	if err := f(); err != nil {
		slog.Debug("error closing ssh session or connection", "err", err.Error())
	}
}
