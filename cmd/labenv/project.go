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

	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/labenv/pkg/ansible"
)

func newProjectCommand() *cobra.Command {
	var (
		address string
		role    string
		out     string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Generate the ansible project for a role test run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			project, err := ansible.WriteProject(ansible.ProjectParams{
				Dir:       out,
				Address:   address,
				Host:      cfg.Host,
				NetworkOS: cfg.NetworkOS,
				Role:      role,
				Format:    format,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "inventory: %s\nplaybook: %s\n", project.Inventory, project.Playbook)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "appliance DHCP address")
	cmd.Flags().StringVar(&role, "role", "", "path of the role under test")
	cmd.Flags().StringVar(&out, "out", ".", "output directory")
	cmd.Flags().StringVar(&format, "format", "json", "output encoding: json or yaml")

	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}
