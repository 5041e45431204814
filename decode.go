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

import "fmt"

// MaxSamplesPerPacket returns the most interleaved samples
// (frame_length * num_channels) a single DecodePacket call can produce.
// An output buffer shorter than this is a caller-contract violation.
func (d *Decoder) MaxSamplesPerPacket() int {
	return int(d.info.FrameLength) * int(d.info.NumChannels)
}

// DecodePacket decodes one ALAC packet into out, returning the prefix of
// out that was filled. S must be wide enough to hold the stream's bit
// depth (16 or 32); out must be at least MaxSamplesPerPacket() long.
// Both are caller contracts, not data-dependent failures, and panic
// rather than return an error - unlike every failure arising from the
// packet's own content, which is reported as ErrInvalidData.
//
// Go forbids type parameters on methods, so this lives as a package-level
// generic function rather than Decoder.DecodePacket.
func DecodePacket[S Sample](d *Decoder, packet []byte, out []S) ([]S, error) {
	if got := bitsFor[S](); got < uint(d.info.BitDepth) {
		panic(fmt.Sprintf("alac: sample type carries %d bits, stream needs %d", got, d.info.BitDepth))
	}

	if max := d.MaxSamplesPerPacket(); len(out) < max {
		panic(fmt.Sprintf("alac: output buffer has %d samples, need at least %d", len(out), max))
	}

	frameSamples, err := d.decodePacket(packet)
	if err != nil {
		return nil, err
	}

	total := frameSamples * int(d.info.NumChannels)

	for i := 0; i < total; i++ {
		out[i] = fromReconstructed[S](d.interleaved[i], uint(d.info.BitDepth))
	}

	return out[:total], nil
}
