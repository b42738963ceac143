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

package keys

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPad16(t *testing.T) {
	assert.Equal(t, "0000000000000000", Pad16(0))
	assert.Equal(t, "0000000000000042", Pad16(42))
	assert.Equal(t, "0001700000000000", Pad16(1700000000000))
}

func TestPad16PreservesOrder(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		a := r.Int63()
		b := r.Int63()
		assert.Equal(t, a < b, Pad16(a) < Pad16(b))
	}
}

func TestURIs(t *testing.T) {
	assert.Equal(t, "t/0001700000000000/k/o1", TKURI("o1", 1700000000000))
	assert.Equal(t, "k/o1/t/0001700000000000", KTURI("o1", 1700000000000))
}

func TestRoundTrip(t *testing.T) {
	for _, id := range []string{TKURI("o1", 1700000000000), KTURI("o1", 1700000000000)} {
		assert.Equal(t, "o1", K(id))
		assert.Equal(t, "0001700000000000", T(id))
		tm, err := TimeOf(id)
		assert.NoError(t, err)
		assert.Equal(t, int64(1700000000000), tm)
	}
}

func TestCompositeComponents(t *testing.T) {
	id := KTURI("org/space/app", 1700000000000)
	assert.Equal(t, "k/org/space/app/t/0001700000000000", id)
	assert.Equal(t, "org/space/app", K(id))
	assert.Equal(t, "0001700000000000", T(id))
}

func TestTimeOfMissing(t *testing.T) {
	_, err := TimeOf("k/only-a-key")
	assert.Error(t, err)
}
