/*
   Copyright Mycophonic.

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

package stereo_test

import (
	"testing"

	"github.com/hyphalcore/alac/internal/stereo"
)

func TestUnmixZeroMixResIsNoOp(t *testing.T) {
	u := []int32{1, 2, 3}
	v := []int32{4, 5, 6}

	stereo.Unmix(u, v, 2, 0)

	if u[0] != 1 || v[0] != 4 {
		t.Fatalf("mixRes=0 must leave u/v untouched, got u=%v v=%v", u, v)
	}
}

func TestUnmixReversesDecorrelation(t *testing.T) {
	// r = u - ((v*mixRes)>>mixBits); l = r+v
	u := []int32{10}
	v := []int32{2}

	stereo.Unmix(u, v, 1, 4) // (2*4)>>1 = 4

	wantR := int32(10 - 4)
	wantL := wantR + 2

	if v[0] != wantR {
		t.Fatalf("v[0] = %d, want %d", v[0], wantR)
	}

	if u[0] != wantL {
		t.Fatalf("u[0] = %d, want %d", u[0], wantL)
	}
}

func TestUnmixRoundTrip(t *testing.T) {
	// Given l, r produced by the encoder's forward mix (u=mid-ish, v=side),
	// unmix must recover the original left/right-style pair deterministically
	// for a known mix_bits/mix_res pair.
	const mixBits, mixRes = 2, 3

	u := []int32{100}
	v := []int32{20}

	stereo.Unmix(u, v, mixBits, mixRes)

	r := int32(100 - ((20 * mixRes) >> mixBits))
	l := r + 20

	if u[0] != l || v[0] != r {
		t.Fatalf("got u=%d v=%d, want u=%d v=%d", u[0], v[0], l, r)
	}
}
