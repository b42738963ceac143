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

package sinks

import (
	"errors"
	"fmt"

	"github.com/meterproj/meterflow/pkg/store"
)

// PostErr is the failure of a single sink post.
type PostErr struct {
	ID         string
	StatusCode int
	Reason     store.Doc
	Terminal   bool
}

func (e *PostErr) Error() string {
	return fmt.Sprintf("sink rejected %s with status %d", e.ID, e.StatusCode)
}

func (e *PostErr) Status() int { return e.StatusCode }

// NoRetry marks terminal rejections (slack conflicts, policy conflicts)
// that more attempts cannot fix.
func (e *PostErr) NoRetry() bool { return e.Terminal }

// Error is the per-call sink failure carrying every rejected post.
type Error struct {
	Reasons    []store.Doc
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("esink: %d sink post(s) failed", len(e.Reasons))
}

// Code labels the error in error documents.
func (e *Error) Code() string { return "esink" }

func (e *Error) Status() int {
	if e.StatusCode == 0 {
		return 500
	}
	return e.StatusCode
}

// IsSinkError reports whether err is a sink fan-out failure.
func IsSinkError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
