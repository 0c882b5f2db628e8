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
	"fmt"
	"os"
	"strings"
)

const (
	actionsEnvKey = "GITHUB_ACTIONS"
	recordFileKey = "GITHUB_ENV"

	// labRecordKey is the variable accumulating every lab id started by
	// this run, comma-joined, so an external cleanup job can reap labs
	// left behind when the run is aborted.
	labRecordKey = "CML_LABS"
)

// recordLabID appends the lab id to the CI environment record file.
// Outside GitHub Actions this is a no-op.
func recordLabID(id string) error {
	if os.Getenv(actionsEnvKey) == "" {
		return nil
	}
	path := os.Getenv(recordFileKey)
	if path == "" {
		return nil
	}
	return appendLabRecord(path, id)
}

// appendLabRecord rewrites the CML_LABS entry with the id appended to the
// accumulated list. The record file uses KEY=value lines where the last
// occurrence of a key wins, so appending a fresh line is sufficient.
func appendLabRecord(path, id string) error {
	ids := []string{}
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if v, ok := strings.CutPrefix(line, labRecordKey+"="); ok {
				ids = parseLabRecord(v)
			}
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	ids = append(ids, id)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%s=%s\n", labRecordKey, strings.Join(ids, ","))
	return err
}

func parseLabRecord(v string) []string {
	ids := []string{}
	for _, id := range strings.Split(v, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
