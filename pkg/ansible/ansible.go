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

// Package ansible builds the collaborator-facing artifacts the role
// tests consume: an inventory record for the provisioned appliance, a
// one-task playbook including the role under test, and the port map
// derived from the appliance's DHCP address.
package ansible

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"
)

// Ports are the per-appliance forwarded ports on the lab controller,
// derived from the last octet of the appliance's DHCP address.
type Ports struct {
	SSH     int `json:"ssh_port"`
	NETCONF int `json:"netconf_port"`
	HTTPS   int `json:"https_port"`
	HTTP    int `json:"http_port"`
}

// CalculatePorts derives the port map from the appliance DHCP address.
func CalculatePorts(address string) (Ports, error) {
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return Ports{}, fmt.Errorf("invalid appliance address %q", address)
	}

	octets := strings.Split(address, ".")
	last, err := strconv.Atoi(octets[len(octets)-1])
	if err != nil {
		return Ports{}, fmt.Errorf("invalid appliance address %q: %w", address, err)
	}

	return Ports{
		SSH:     2000 + last,
		NETCONF: 3000 + last,
		HTTPS:   4000 + last,
		HTTP:    8000 + last,
	}, nil
}

// InventoryParams describes the appliance entry of the inventory.
type InventoryParams struct {
	Host        string
	Username    string
	Password    string
	SSHPort     int
	HTTPAPIPort int
	NetworkOS   string
}

// Inventory builds the inventory record for the appliance, connecting
// through the lab controller's forwarded ports with the network_cli
// connection over libssh.
func Inventory(p InventoryParams) map[string]any {
	return map[string]any{
		"all": map[string]any{
			"hosts": map[string]any{
				"appliance": map[string]any{
					"ansible_become":                 false,
					"ansible_host":                   p.Host,
					"ansible_user":                   p.Username,
					"ansible_password":               p.Password,
					"ansible_port":                   p.SSHPort,
					"ansible_httpapi_port":           p.HTTPAPIPort,
					"ansible_connection":             "ansible.netcommon.network_cli",
					"ansible_network_cli_ssh_type":   "libssh",
					"ansible_python_interpreter":     "python",
					"ansible_network_import_modules": true,
				},
			},
			"vars": map[string]any{"ansible_network_os": p.NetworkOS},
		},
	}
}

// Playbook builds a playbook with a single role-inclusion task.
func Playbook(hosts, role string) []map[string]any {
	task := map[string]any{
		"name":         fmt.Sprintf("Run role %s", role),
		"include_role": map[string]any{"name": role},
	}
	return []map[string]any{
		{
			"hosts":        hosts,
			"gather_facts": false,
			"tasks":        []map[string]any{task},
		},
	}
}

// Project is a generated on-disk ansible project.
type Project struct {
	Directory        string
	Inventory        string
	Playbook         string
	PlaybookArtifact string
	LogFile          string
	Role             string
}

// ProjectParams configures WriteProject.
type ProjectParams struct {
	// Dir is the directory receiving the generated files.
	Dir string
	// Address is the appliance DHCP address the ports derive from.
	Address string
	// Host is the lab controller hostname the connection goes through.
	Host string
	// NetworkOS selects the ansible network platform.
	NetworkOS string
	// Username and Password authenticate against the appliance.
	// Both default to "ansible", the lab image's built-in account.
	Username string
	Password string
	// Role is the path of the role under test.
	Role string
	// Format selects the output encoding: "json" (default) or "yaml".
	Format string
}

// WriteProject writes the inventory and playbook for one role test run
// and returns the resulting file layout.
func WriteProject(p ProjectParams) (*Project, error) {
	if p.Username == "" {
		p.Username = "ansible"
	}
	if p.Password == "" {
		p.Password = "ansible"
	}

	ports, err := CalculatePorts(p.Address)
	if err != nil {
		return nil, err
	}

	inventory := Inventory(InventoryParams{
		Host:        p.Host,
		Username:    p.Username,
		Password:    p.Password,
		SSHPort:     ports.SSH,
		HTTPAPIPort: ports.HTTP,
		NetworkOS:   p.NetworkOS,
	})
	playbook := Playbook("all", p.Role)

	ext := "json"
	if p.Format == "yaml" {
		ext = "yaml"
	}

	project := &Project{
		Directory:        p.Dir,
		Inventory:        filepath.Join(p.Dir, "inventory."+ext),
		Playbook:         filepath.Join(p.Dir, "site."+ext),
		PlaybookArtifact: filepath.Join(p.Dir, "playbook-artifact.json"),
		LogFile:          filepath.Join(p.Dir, "ansible.log"),
		Role:             p.Role,
	}

	if err := writeEncoded(project.Inventory, inventory, ext); err != nil {
		return nil, err
	}
	if err := writeEncoded(project.Playbook, playbook, ext); err != nil {
		return nil, err
	}

	return project, nil
}

func writeEncoded(path string, v any, ext string) error {
	var (
		data []byte
		err  error
	)
	if ext == "yaml" {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}
