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

package pipeline

import (
	"errors"
	"fmt"
)

// DuplicateErr rejects an input whose output has already been processed.
// It is terminal, benign and invisible to the circuit breaker.
type DuplicateErr struct {
	ID string
}

func (e *DuplicateErr) Error() string {
	return fmt.Sprintf("conflict: input for %s already processed", e.ID)
}

func (e *DuplicateErr) Code() string    { return "conflict" }
func (e *DuplicateErr) Status() int     { return 409 }
func (e *DuplicateErr) NoRetry() bool   { return true }
func (e *DuplicateErr) NoBreaker() bool { return true }

// IsDuplicate reports whether err rejects a duplicate input.
func IsDuplicate(err error) bool {
	var d *DuplicateErr
	return errors.As(err, &d)
}

// WindowLimitErr rejects an error-list query spanning more than one month.
type WindowLimitErr struct {
	Window int64
}

func (e *WindowLimitErr) Error() string {
	return fmt.Sprintf("errlimit: query window %dms exceeds one month", e.Window)
}

func (e *WindowLimitErr) Code() string  { return "errlimit" }
func (e *WindowLimitErr) Status() int   { return 409 }
func (e *WindowLimitErr) NoRetry() bool { return true }
