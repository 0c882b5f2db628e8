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
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/labenv/internal/util/gracefulshutdown"
	"github.com/alexandremahdhaoui/labenv/pkg/ansible"
	"github.com/alexandremahdhaoui/labenv/pkg/provision"
	"github.com/alexandremahdhaoui/labenv/pkg/virsh"
)

type provisionResult struct {
	Address string        `json:"address"`
	LabID   string        `json:"lab_id"`
	Existed bool          `json:"existed"`
	Ports   ansible.Ports `json:"ports"`
}

func newProvisionCommand(log *logr.Logger) *cobra.Command {
	defaults := virsh.DefaultConfig()

	var (
		labFile string
		keep    bool
		output  string

		warmup         time.Duration
		domainAttempts int
		domainDelay    time.Duration
		leaseAttempts  int
		leaseDelay     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Bring a lab up and resolve the appliance DHCP address",
		Long: `Bring the lab described by --lab-file up (or adopt a lab that is
already running), poll the hypervisor for the appliance's DHCP lease, and
print the resolved address with its derived port map. Unless --keep is
given, the command then waits for an interrupt and tears the lab down.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			vcfg := defaults
			vcfg.WarmupDelay = warmup
			vcfg.Domain.Attempts = domainAttempts
			vcfg.Domain.Delay = domainDelay
			vcfg.Lease.Attempts = leaseAttempts
			vcfg.Lease.Delay = leaseDelay

			gs := gracefulshutdown.New("labenv", *log)

			env, err := provision.New(provision.Config{
				LabFile:     labFile,
				Host:        cfg.Host,
				UIUser:      cfg.UIUser,
				UIPassword:  cfg.UIPassword,
				SSHUser:     cfg.SSHUser,
				SSHPassword: cfg.SSHPassword,
				SSHPort:     cfg.SSHPort,
				Virsh:       vcfg,
			}).Acquire()
			if err != nil {
				return err
			}

			ports, err := ansible.CalculatePorts(env.Address)
			if err != nil {
				return err
			}

			result := provisionResult{
				Address: env.Address,
				LabID:   env.LabID,
				Existed: env.Existed,
				Ports:   ports,
			}
			if err := printResult(cmd, output, result); err != nil {
				return err
			}

			if keep {
				slog.Info("leaving lab up", "id", env.LabID)
				return nil
			}

			var releaseErr error
			gs.OnShutdown(func() {
				releaseErr = env.Release()
			})

			slog.Info("lab is up; interrupt to tear it down", "id", env.LabID)
			<-gs.Context().Done()
			gs.Shutdown()

			return releaseErr
		},
	}

	cmd.Flags().StringVarP(&labFile, "lab-file", "f", "", "lab topology definition file")
	cmd.Flags().BoolVar(&keep, "keep", false, "leave the lab up instead of waiting for an interrupt")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	cmd.Flags().DurationVar(&warmup, "warmup-delay", defaults.WarmupDelay,
		"time the appliance needs to boot before lease polling starts")
	cmd.Flags().IntVar(&domainAttempts, "domain-attempts", defaults.Domain.Attempts,
		"domain discovery attempt budget")
	cmd.Flags().DurationVar(&domainDelay, "domain-delay", defaults.Domain.Delay,
		"delay between domain discovery attempts")
	cmd.Flags().IntVar(&leaseAttempts, "lease-attempts", defaults.Lease.Attempts,
		"dhcp lease attempt budget")
	cmd.Flags().DurationVar(&leaseDelay, "lease-delay", defaults.Lease.Delay,
		"delay between dhcp lease attempts")

	_ = cmd.MarkFlagRequired("lab-file")

	return cmd
}

func printResult(cmd *cobra.Command, output string, v provisionResult) error {
	switch output {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	case "text":
		fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nlab id: %s\nexisted: %t\n", v.Address, v.LabID, v.Existed)
		fmt.Fprintf(cmd.OutOrStdout(), "ssh: %d netconf: %d https: %d http: %d\n",
			v.Ports.SSH, v.Ports.NETCONF, v.Ports.HTTPS, v.Ports.HTTP)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
	return nil
}
