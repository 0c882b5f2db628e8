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

package cml

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alexandremahdhaoui/labenv/internal/util/logging"
	"github.com/alexandremahdhaoui/labenv/pkg/execcontext"
)

// Runner runs a cml CLI subcommand and returns its captured streams.
type Runner interface {
	Run(args ...string) (stdout, stderr string, err error)
}

// NewRunner returns a Runner invoking the real cml binary. Authentication
// travels through the tool's environment variables.
func NewRunner(host, username, password string) Runner {
	return &execRunner{
		ectx: execcontext.New(map[string]string{
			"VIRL_HOST":       host,
			"VIRL_USERNAME":   username,
			"VIRL_PASSWORD":   password,
			"CML_VERIFY_CERT": "False",
		}, []string{"cml"}),
		log: logging.ForWorker(),
	}
}

type execRunner struct {
	ectx execcontext.Context
	log  *slog.Logger
}

// Run executes the cml subcommand as a subprocess. A nonzero exit code is
// not an error at this layer: the tool exits nonzero e.g. when no lab is
// selected, and the caller decides based on the captured output.
func (r *execRunner) Run(args ...string) (string, string, error) {
	argv := append(r.ectx.PrependCmd(), args...)
	r.log.Info("running command", "argv", strings.Join(argv, " "))

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = environWithVirtualEnv()
	execcontext.ApplyToCmd(r.ectx, cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}

	return stdout.String(), stderr.String(), err
}

// environWithVirtualEnv copies the process environment, prefixing PATH
// with the active virtualenv's bin directory so the cml installed there
// is preferred.
func environWithVirtualEnv() []string {
	env := os.Environ()
	venv := os.Getenv("VIRTUAL_ENV")
	if venv == "" {
		return env
	}

	prefix := filepath.Join(venv, "bin") + string(os.PathListSeparator)
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[i] = "PATH=" + prefix + strings.TrimPrefix(kv, "PATH=")
			return env
		}
	}
	return append(env, "PATH="+filepath.Join(venv, "bin"))
}
