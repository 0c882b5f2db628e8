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

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Config carries the controller credentials sourced from the environment.
// Every variable is required; validation fails closed with the full list
// of missing names rather than stopping at the first.
type Config struct {
	Host        string
	UIUser      string
	UIPassword  string
	SSHUser     string
	SSHPassword string
	SSHPort     int
	NetworkOS   string
}

var envBindings = map[string]string{
	"host":         "VIRL_HOST",
	"ui_user":      "VIRL_USERNAME",
	"ui_password":  "VIRL_PASSWORD",
	"ssh_user":     "CML_SSH_USER",
	"ssh_password": "CML_SSH_PASSWORD",
	"ssh_port":     "CML_SSH_PORT",
	"network_os":   "ANSIBLE_NETWORK_OS",
}

func loadConfig() (*Config, error) {
	v := viper.New()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	missing := []string{}
	for _, key := range sortedKeys(envBindings) {
		if v.GetString(key) == "" {
			missing = append(missing, envBindings[key])
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		Host:        v.GetString("host"),
		UIUser:      v.GetString("ui_user"),
		UIPassword:  v.GetString("ui_password"),
		SSHUser:     v.GetString("ssh_user"),
		SSHPassword: v.GetString("ssh_password"),
		SSHPort:     v.GetInt("ssh_port"),
		NetworkOS:   v.GetString("network_os"),
	}
	if cfg.SSHPort <= 0 {
		return nil, fmt.Errorf("invalid CML_SSH_PORT %q", v.GetString("ssh_port"))
	}

	return cfg, nil
}
