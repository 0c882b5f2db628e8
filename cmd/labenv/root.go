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
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/labenv/internal/util/logging"
)

func newRootCommand() *cobra.Command {
	var (
		dev bool
		log logr.Logger
	)

	root := &cobra.Command{
		Use:   "labenv",
		Short: "Provision network-appliance lab environments",
		Long: `labenv drives a CML lab controller and its hypervisor to provision a
network-appliance lab, discover the appliance's DHCP-leased address, and
generate the inventory and playbook used by role-based integration tests.

Controller credentials are read from the environment:
  VIRL_HOST, VIRL_USERNAME, VIRL_PASSWORD,
  CML_SSH_USER, CML_SSH_PASSWORD, CML_SSH_PORT,
  ANSIBLE_NETWORK_OS`,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if dev {
				log = logging.SetupDevelopment()
			} else {
				log = logging.SetupDefault()
			}
		},
	}

	root.PersistentFlags().BoolVar(&dev, "dev", false, "human-readable debug logging")

	root.AddCommand(newProvisionCommand(&log))
	root.AddCommand(newTeardownCommand())
	root.AddCommand(newPortsCommand())
	root.AddCommand(newProjectCommand())

	return root
}
