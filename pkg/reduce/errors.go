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

package reduce

import (
	"errors"
	"fmt"

	"github.com/meterproj/meterflow/pkg/store"
)

// ReducerErr wraps a failure thrown by the user supplied reducer. The whole
// group batch fails; nothing is posted or logged.
type ReducerErr struct {
	Group string
	Err   error
}

func (e *ReducerErr) Error() string {
	return fmt.Sprintf("reducer failed for group %s: %v", e.Group, e.Err)
}

func (e *ReducerErr) Unwrap() error { return e.Err }
func (e *ReducerErr) Status() int   { return 500 }

// MarkErr is an error mark the reducer embedded in one of its outputs. The
// call fails but the rest of the batch proceeds.
type MarkErr struct {
	Output store.Doc
}

func (e *MarkErr) Error() string {
	return fmt.Sprintf("reducer marked output with error %v", e.Output["error"])
}

// Status maps the embedded error kind onto an HTTP status: expression
// errors are the caller's fault, timeouts and the rest are ours.
func (e *MarkErr) Status() int {
	if s := store.Int64(e.Output["status"]); s != 0 {
		return int(s)
	}
	if s := store.Int64(e.Output["statusCode"]); s != 0 {
		return int(s)
	}
	switch e.Output["error"] {
	case "expression":
		return 422
	case "timeout":
		return 500
	default:
		return 500
	}
}

// IsMark reports whether err is a reducer error mark.
func IsMark(err error) bool {
	var m *MarkErr
	return errors.As(err, &m)
}
