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

// Package stereo reverses the ALAC mid/side-style channel decorrelation
// applied to channel-pair elements.
package stereo

// Unmix reverses the decorrelation transform in place over u and v when
// mixRes is non-zero. A zero mixRes means the encoder left the pair
// unmixed and u/v are left untouched.
func Unmix(u, v []int32, mixBits, mixRes int32) {
	if mixRes == 0 {
		return
	}

	for i := range u {
		r := u[i] - ((v[i] * mixRes) >> mixBits)
		l := r + v[i]

		u[i] = l
		v[i] = r
	}
}
