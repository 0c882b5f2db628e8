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

package virsh

import "strings"

// leaseFieldCount is the number of whitespace-delimited fields in a
// well-formed `virsh net-dhcp-leases` row:
//
//	expiry-date expiry-time mac protocol ip/prefix hostname client-id
const leaseFieldCount = 7

const (
	leaseMACField = 2
	leaseIPField  = 4
)

// parseLeases builds a MAC-to-IP mapping from lease-table output. Rows
// that do not split into exactly leaseFieldCount fields (headers,
// separators, truncated lines) are silently skipped. The CIDR suffix is
// stripped from the address.
func parseLeases(stdout string) map[string]string {
	leases := map[string]string{}
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) != leaseFieldCount {
			continue
		}
		ip, _, _ := strings.Cut(fields[leaseIPField], "/")
		leases[fields[leaseMACField]] = ip
	}
	return leases
}
