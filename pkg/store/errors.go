/*
Copyright 2023 The Meterproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"errors"
	"fmt"
)

// ConflictErr is returned by Put when the carried revision does not match
// the stored one. Conflicts are not retried at the wrapper level; the caller
// re-reads and replays the whole batch.
type ConflictErr struct {
	Name string
	ID   string
}

func (e ConflictErr) Error() string {
	return fmt.Sprintf("(%s) conflict writing %s", e.Name, e.ID)
}

func (e ConflictErr) Status() int    { return 409 }
func (e ConflictErr) NoRetry() bool  { return true }
func (e ConflictErr) NoBreaker() bool { return true }

// IsConflict reports whether err is a revision conflict.
func IsConflict(err error) bool {
	var c ConflictErr
	return errors.As(err, &c)
}

type statuser interface{ Status() int }
type noRetrier interface{ NoRetry() bool }
type noBreaker interface{ NoBreaker() bool }

// StatusOf returns the HTTP status an error maps to, or the fallback.
func StatusOf(err error, fallback int) int {
	var s statuser
	if errors.As(err, &s) {
		return s.Status()
	}
	return fallback
}

// IsNoRetry reports whether err is terminal and must not be retried.
func IsNoRetry(err error) bool {
	var nr noRetrier
	return errors.As(err, &nr) && nr.NoRetry()
}

// IsNoBreaker reports whether err must not count against the circuit
// breaker's failure budget.
func IsNoBreaker(err error) bool {
	var nb noBreaker
	return errors.As(err, &nb) && nb.NoBreaker()
}
