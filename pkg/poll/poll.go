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

// Package poll implements bounded-retry polling with a fixed delay
// between attempts. Budgets and delays are plain data so tests can count
// attempts with an injected zero-delay sleeper.
package poll

import (
	"errors"
	"time"
)

// ErrExhausted is returned when the attempt budget is spent without the
// condition being met.
var ErrExhausted = errors.New("no attempts remaining")

// Policy describes a bounded retry loop.
type Policy struct {
	// Attempts is the maximum number of times the condition is evaluated.
	Attempts int

	// Delay is the fixed pause between two attempts.
	Delay time.Duration

	// Sleep is called to wait between attempts. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Until evaluates fn until it reports done, returns an error, or the
// attempt budget is spent. The delay applies between attempts, never
// after the last one. Errors from fn abort the loop immediately.
func (p Policy) Until(fn func(attempt int) (done bool, err error)) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	for attempt := 0; attempt < p.Attempts; attempt++ {
		done, err := fn(attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt < p.Attempts-1 {
			sleep(p.Delay)
		}
	}

	return ErrExhausted
}
