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

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupEnvIntOr(t *testing.T) {
	t.Setenv("MF_TEST_INT", "")
	assert.Equal(t, 9090, LookupEnvIntOr("MF_TEST_INT", 9090))
	assert.Equal(t, 9090, LookupEnvIntOr("MF_TEST_UNSET", 9090))
	t.Setenv("MF_TEST_INT", "9400")
	assert.Equal(t, 9400, LookupEnvIntOr("MF_TEST_INT", 9090))
	t.Setenv("MF_TEST_INT", "not-a-number")
	assert.Panics(t, func() { LookupEnvIntOr("MF_TEST_INT", 9090) })
}

func TestLookupEnvBoolOr(t *testing.T) {
	assert.False(t, LookupEnvBoolOr("MF_TEST_UNSET", false))
	t.Setenv("MF_TEST_BOOL", "true")
	assert.True(t, LookupEnvBoolOr("MF_TEST_BOOL", false))
	t.Setenv("MF_TEST_BOOL", "yes")
	assert.Panics(t, func() { LookupEnvBoolOr("MF_TEST_BOOL", false) })
}
