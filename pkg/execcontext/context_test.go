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

package execcontext_test

import (
	"os/exec"
	"testing"

	"github.com/alexandremahdhaoui/labenv/pkg/execcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatCmd(t *testing.T) {
	tests := []struct {
		name     string
		envs     map[string]string
		prepend  []string
		cmd      []string
		expected string
	}{
		{
			name:     "prefix only",
			prepend:  []string{"sudo"},
			cmd:      []string{"virsh", "list", "--all"},
			expected: `"sudo" "virsh" "list" "--all"`,
		},
		{
			name:     "envs are sorted and quoted",
			envs:     map[string]string{"B": "2", "A": "1"},
			cmd:      []string{"true"},
			expected: `A="1" B="2" "true"`,
		},
		{
			name:     "shell connectors stay unquoted",
			cmd:      []string{"true", "&&", "false"},
			expected: `"true" && "false"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := execcontext.New(tt.envs, tt.prepend)
			assert.Equal(t, tt.expected, execcontext.FormatCmd(ctx, tt.cmd...))
		})
	}
}

func TestApplyToCmd(t *testing.T) {
	ctx := execcontext.New(map[string]string{
		"VIRL_HOST": "cml.example.com",
		"PATH":      "/venv/bin",
	}, nil)

	cmd := exec.Command("true")
	cmd.Env = []string{"PATH=/usr/bin", "HOME=/home/ci"}
	execcontext.ApplyToCmd(ctx, cmd)

	require.Len(t, cmd.Env, 3)
	assert.Equal(t, "HOME=/home/ci", cmd.Env[0])
	// context entries replace inherited ones rather than shadowing them
	assert.Equal(t, "PATH=/venv/bin", cmd.Env[1])
	assert.Equal(t, "VIRL_HOST=cml.example.com", cmd.Env[2])
}

func TestContextCopies(t *testing.T) {
	envs := map[string]string{"A": "1"}
	prepend := []string{"sudo"}
	ctx := execcontext.New(envs, prepend)

	got := ctx.Envs()
	got["A"] = "mutated"
	assert.Equal(t, "1", ctx.Envs()["A"])

	gotCmd := ctx.PrependCmd()
	gotCmd[0] = "mutated"
	assert.Equal(t, "sudo", ctx.PrependCmd()[0])
}
