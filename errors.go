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

package alac

import "errors"

// ErrInvalidData is the single sentinel returned for every malformed-input
// condition: a bad magic cookie, a malformed SDP descriptor, or a packet
// that violates the bitstream's structural invariants. Wrap it with
// fmt.Errorf("%w: ...", ErrInvalidData) for the specific failure; callers
// match with errors.Is(err, alac.ErrInvalidData).
var ErrInvalidData = errors.New("alac: invalid data")
