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
	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/labenv/pkg/cml"
)

func newTeardownCommand() *cobra.Command {
	var labID string

	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Force-remove a lab by id",
		Long: `Select the lab by id and force-remove it without confirmation. Meant
for reaping labs left behind by provision --keep or aborted runs.`,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := cml.NewClient(cfg.Host, cfg.UIUser, cfg.UIPassword)
			client.ID = labID
			return client.Remove()
		},
	}

	cmd.Flags().StringVar(&labID, "lab-id", "", "lab identifier")
	_ = cmd.MarkFlagRequired("lab-id")

	return cmd
}
