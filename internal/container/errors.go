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

// Package container locates and demuxes an ALAC track from an MP4/M4A file,
// outside the decoding core: it is plumbing for cmd/alacdump, not something
// the packet decoder itself depends on.
package container

import "errors"

//revive:disable:exported
var (
	ErrNoALACTrack    = errors.New("container: no ALAC track found")
	ErrInvalidEntry   = errors.New("container: invalid ALAC sample entry")
	ErrInvalidBoxSize = errors.New("container: invalid box size")
	ErrNoChunkOffset  = errors.New("container: no chunk offset box (stco/co64)")
	ErrInvalidCo64    = errors.New("container: invalid co64 payload")
	ErrNoStsc         = errors.New("container: no stsc box")
	ErrInvalidStsc    = errors.New("container: invalid stsc payload")
	ErrNoStsz         = errors.New("container: no stsz box")
	ErrInvalidStsz    = errors.New("container: invalid stsz payload")
)
