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

// Package execcontext decorates command execution with an environment and
// a command prefix. The lab tooling needs both flavors: local subprocesses
// get their environment augmented with authentication variables, and
// remote shell commands get prefixed (e.g. with sudo) before being sent
// over SSH.
package execcontext

import (
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strings"
)

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

type Context interface {
	Envs() map[string]string
	PrependCmd() []string
}

func New(envs map[string]string, prependCmd []string) Context {
	return &context{
		prependCmd: prependCmd,
		envs:       envs,
	}
}

type context struct {
	envs       map[string]string
	prependCmd []string
}

// Envs implements Context.
func (c *context) Envs() map[string]string {
	out := make(map[string]string, len(c.envs))
	maps.Copy(out, c.envs)
	return out
}

// PrependCmd implements Context.
func (c *context) PrependCmd() []string {
	out := make([]string, len(c.prependCmd))
	copy(out, c.prependCmd)
	return out
}

// ApplyToCmd merges the context's environment into cmd.Env, replacing any
// entry with the same key so the context always wins over the inherited
// environment. Keys are applied in sorted order for determinism.
func ApplyToCmd(ctx Context, cmd *exec.Cmd) {
	envs := ctx.Envs()
	if len(cmd.Env) > 0 {
		kept := cmd.Env[:0]
		for _, kv := range cmd.Env {
			key, _, _ := strings.Cut(kv, "=")
			if _, ok := envs[key]; !ok {
				kept = append(kept, kv)
			}
		}
		cmd.Env = kept
	}
	for _, k := range sortedKeys(envs) {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, envs[k]))
	}
}

// FormatCmd renders the context and the given command as a single shell
// string suitable for remote execution.
func FormatCmd(ctx Context, cmd ...string) string {
	out := ""

	envs := ctx.Envs()
	for _, k := range sortedKeys(envs) {
		out = fmt.Sprintf("%s%s=%q ", out, k, envs[k])
	}

	for _, s := range ctx.PrependCmd() {
		out = safelyAppendToCmd(out, s)
	}

	for _, s := range cmd {
		out = safelyAppendToCmd(out, s)
	}

	return strings.TrimSpace(out)
}

var unquottable = map[string]struct{}{
	"&&": {},
	"||": {},
	";":  {},
	":":  {},
	"&":  {},
}

func safelyAppendToCmd(cmd string, s string) string {
	if _, ok := unquottable[s]; ok {
		return fmt.Sprintf("%s%s ", cmd, s)
	}
	return fmt.Sprintf("%s%q ", cmd, s)
}
