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

package alac_test

import (
	"errors"
	"testing"

	"github.com/hyphalcore/alac"
)

// bitWriter assembles an MSB-first bitstream a few bits at a time, mirroring
// the bit order DecodePacket's cursor consumes, so synthetic packets can be
// built without hand-computed hex.
type bitWriter struct {
	bytes  []byte
	bitLen int
}

func (w *bitWriter) writeBits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		bit := byte((v >> uint(i)) & 1)

		byteIdx := w.bitLen / 8
		for byteIdx >= len(w.bytes) {
			w.bytes = append(w.bytes, 0)
		}

		w.bytes[byteIdx] |= bit << (7 - uint(w.bitLen%8))
		w.bitLen++
	}
}

// elementHeader writes the 3-bit element tag plus the element instance tag,
// reserved bits and the 4-bit partial/shift/escape header byte shared by
// SCE and CPE elements.
func elementHeader(w *bitWriter, tag uint64, partial, shift, escape uint64) {
	w.writeBits(tag, 3)
	w.writeBits(0, 4)  // element instance tag
	w.writeBits(0, 12) // reserved
	w.writeBits(partial<<3|shift<<1|escape, 4)
}

func lpcHeaderBits(w *bitWriter, lpcMode, denShift, pbFactor, order uint64) {
	w.writeBits(lpcMode<<4|denShift, 8)
	w.writeBits(pbFactor<<5|order, 8)
}

// unaryCode writes q one-bits followed by a terminating zero, the k==1 Rice
// code used throughout these tests (chosen via MB=128, PB=0 so k stays 1).
func unaryCode(w *bitWriter, q uint64) {
	for i := uint64(0); i < q; i++ {
		w.writeBits(1, 1)
	}

	w.writeBits(0, 1)
}

func zigzagEncode(v int32) uint64 {
	if v < 0 {
		return uint64(-2*v - 1)
	}

	return uint64(2 * v)
}

// monoInfo is a minimal single-channel StreamInfo for SCE tests.
func monoInfo(frameLength uint32, bitDepth uint8) alac.StreamInfo {
	return alac.StreamInfo{
		FrameLength: frameLength,
		BitDepth:    bitDepth,
		PB:          0,
		MB:          128,
		KB:          14,
		NumChannels: 1,
		SampleRate:  44100,
	}
}

func stereoInfo(frameLength uint32, bitDepth uint8) alac.StreamInfo {
	info := monoInfo(frameLength, bitDepth)
	info.NumChannels = 2

	return info
}

func decodeMono(t *testing.T, info alac.StreamInfo, packet []byte) []int16 {
	t.Helper()

	dec, err := alac.NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out := make([]int16, dec.MaxSamplesPerPacket())

	got, err := alac.DecodePacket(dec, packet, out)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}

	return got
}

func TestDecodePacketSCEUncompressed(t *testing.T) {
	info := monoInfo(2, 16)

	w := &bitWriter{}
	elementHeader(w, 0 /* SCE */, 0, 0, 1 /* escape: uncompressed */)
	w.writeBits(0x0064, 16) // sample 0 = 100
	w.writeBits(0xFFCE, 16) // sample 1 = -50
	w.writeBits(7, 3)       // END

	got := decodeMono(t, info, w.bytes)

	want := []int16{100, -50}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("got[%d] = %d, want %d (full %v)", i, got[i], v, got)
		}
	}
}

func TestDecodePacketSCECompressedOrderZero(t *testing.T) {
	// Residuals {0, 3, -2} reconstruct, order 0, into {0, 3, 1}: each
	// output sample is the previous reconstructed sample plus the next
	// residual, per lpc.Reconstruct's order-0 running-sum behavior.
	info := monoInfo(3, 16)

	w := &bitWriter{}
	elementHeader(w, 0 /* SCE */, 0, 0, 0 /* compressed */)
	w.writeBits(0, 8) // mix_bits, unused for mono
	w.writeBits(0, 8) // mix_res, unused for mono
	lpcHeaderBits(w, 0 /* lpc_mode */, 14 /* denShift */, 4 /* pb_factor */, 0 /* order */)
	unaryCode(w, zigzagEncode(0))
	unaryCode(w, zigzagEncode(3))
	unaryCode(w, zigzagEncode(-2))
	w.writeBits(7, 3) // END

	got := decodeMono(t, info, w.bytes)

	want := []int16{0, 3, 1}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("got[%d] = %d, want %d (full %v)", i, got[i], v, got)
		}
	}
}

func TestDecodePacketSCECompressedReattachesShiftedBits(t *testing.T) {
	// chan_bits = 16 - 1*8 = 8: the Rice-coded residual stream only carries
	// the high 8 bits of each 16-bit sample, and a shift region carries the
	// low 8 bits separately. The decoded sample must be
	// (residual << 8) | shift_byte, exactly as the CPE path reattaches it.
	info := monoInfo(3, 16)

	w := &bitWriter{}
	elementHeader(w, 0 /* SCE */, 0, 1 /* sample_shift_bytes */, 0 /* compressed */)
	w.writeBits(0, 8) // mix_bits, unused for mono
	w.writeBits(0, 8) // mix_res, unused for mono
	lpcHeaderBits(w, 0 /* lpc_mode */, 14 /* denShift */, 4 /* pb_factor */, 0 /* order */)
	w.writeBits(0x05, 8) // shift byte for sample 0
	w.writeBits(0x0A, 8) // shift byte for sample 1
	w.writeBits(0x0F, 8) // shift byte for sample 2
	unaryCode(w, zigzagEncode(0))
	unaryCode(w, zigzagEncode(3))
	unaryCode(w, zigzagEncode(-2))
	w.writeBits(7, 3) // END

	got := decodeMono(t, info, w.bytes)

	// Residuals {0, 3, -2} reconstruct, order 0, into {0, 3, 1} before the
	// shift bytes are reattached.
	want := []int16{0<<8 | 0x05, 3<<8 | 0x0A, 1<<8 | 0x0F}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("got[%d] = %d, want %d (full %v)", i, got[i], v, got)
		}
	}
}

func TestDecodePacketCPEOrderZeroNoMix(t *testing.T) {
	// mix_bits/mix_res both zero disables the decorrelation transform, so
	// each channel's independently-reconstructed residual stream passes
	// straight through to the interleaved output.
	info := stereoInfo(3, 16)

	w := &bitWriter{}
	elementHeader(w, 1 /* CPE */, 0, 0, 0 /* compressed */)
	w.writeBits(0, 8) // mix_bits = 0
	w.writeBits(0, 8) // mix_res = 0
	lpcHeaderBits(w, 0, 14, 4, 0) // U header
	lpcHeaderBits(w, 0, 14, 4, 0) // V header
	unaryCode(w, zigzagEncode(0))  // U residuals: {0, 3, -2} -> {0, 3, 1}
	unaryCode(w, zigzagEncode(3))
	unaryCode(w, zigzagEncode(-2))
	unaryCode(w, zigzagEncode(0))  // V residuals: {0, -1, 2} -> {0, -1, 1}
	unaryCode(w, zigzagEncode(-1))
	unaryCode(w, zigzagEncode(2))
	w.writeBits(7, 3) // END

	dec, err := alac.NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out := make([]int16, dec.MaxSamplesPerPacket())

	got, err := alac.DecodePacket(dec, w.bytes, out)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}

	want := []int16{0, 0, 3, -1, 1, 1} // interleaved U0,V0,U1,V1,U2,V2
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("got[%d] = %d, want %d (full %v)", i, got[i], v, got)
		}
	}
}

func TestDecodePacketRejectsNonZeroReservedBits(t *testing.T) {
	info := monoInfo(2, 16)

	w := &bitWriter{}
	w.writeBits(0, 3) // SCE
	w.writeBits(0, 4) // instance tag
	w.writeBits(1, 12) // reserved bits must be zero
	w.writeBits(1, 4)

	dec, err := alac.NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out := make([]int16, dec.MaxSamplesPerPacket())

	_, err = alac.DecodePacket(dec, w.bytes, out)
	if !errors.Is(err, alac.ErrInvalidData) {
		t.Fatalf("got %v, want ErrInvalidData", err)
	}
}

func TestDecodePacketRejectsCCE(t *testing.T) {
	info := monoInfo(2, 16)

	w := &bitWriter{}
	w.writeBits(2, 3) // CCE, unsupported

	dec, err := alac.NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out := make([]int16, dec.MaxSamplesPerPacket())

	_, err = alac.DecodePacket(dec, w.bytes, out)
	if !errors.Is(err, alac.ErrInvalidData) {
		t.Fatalf("got %v, want ErrInvalidData", err)
	}
}

func TestDecodePacketRejectsShiftBytesThree(t *testing.T) {
	info := monoInfo(2, 16)

	w := &bitWriter{}
	elementHeader(w, 0, 0, 3 /* invalid sample_shift_bytes */, 0)

	dec, err := alac.NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out := make([]int16, dec.MaxSamplesPerPacket())

	_, err = alac.DecodePacket(dec, w.bytes, out)
	if !errors.Is(err, alac.ErrInvalidData) {
		t.Fatalf("got %v, want ErrInvalidData", err)
	}
}

func TestDecodePacketRejectsInvalidLPCMode(t *testing.T) {
	info := monoInfo(2, 16)

	w := &bitWriter{}
	elementHeader(w, 0, 0, 0, 0)
	w.writeBits(0, 8) // mix_bits
	w.writeBits(0, 8) // mix_res
	lpcHeaderBits(w, 5 /* neither 0 nor 15 */, 0, 0, 0)

	dec, err := alac.NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out := make([]int16, dec.MaxSamplesPerPacket())

	_, err = alac.DecodePacket(dec, w.bytes, out)
	if !errors.Is(err, alac.ErrInvalidData) {
		t.Fatalf("got %v, want ErrInvalidData", err)
	}
}

func TestDecodePacketRejectsOrder31WithLPCModeZero(t *testing.T) {
	info := monoInfo(2, 16)

	w := &bitWriter{}
	elementHeader(w, 0, 0, 0, 0)
	w.writeBits(0, 8)
	w.writeBits(0, 8)
	lpcHeaderBits(w, 0, 0, 0, 31) // order 31 requires lpc_mode 15

	dec, err := alac.NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out := make([]int16, dec.MaxSamplesPerPacket())

	_, err = alac.DecodePacket(dec, w.bytes, out)
	if !errors.Is(err, alac.ErrInvalidData) {
		t.Fatalf("got %v, want ErrInvalidData", err)
	}
}

func TestDecodePacketRejectsChannelCountMismatchAtEnd(t *testing.T) {
	info := stereoInfo(2, 16) // declares 2 channels

	w := &bitWriter{}
	elementHeader(w, 0, 0, 0, 1) // a single SCE, uncompressed
	w.writeBits(0, 16)
	w.writeBits(0, 16)
	w.writeBits(7, 3) // END after only one channel

	dec, err := alac.NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out := make([]int16, dec.MaxSamplesPerPacket())

	_, err = alac.DecodePacket(dec, w.bytes, out)
	if !errors.Is(err, alac.ErrInvalidData) {
		t.Fatalf("got %v, want ErrInvalidData", err)
	}
}

func TestDecodePacketRejectsPartialFrameExceedingFrameLength(t *testing.T) {
	info := monoInfo(2, 16)

	w := &bitWriter{}
	elementHeader(w, 0, 1 /* partial frame */, 0, 1 /* escape, irrelevant: errors first */)
	w.writeBits(100, 32) // partial-frame sample count, exceeds FrameLength=2

	dec, err := alac.NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out := make([]int16, dec.MaxSamplesPerPacket())

	_, err = alac.DecodePacket(dec, w.bytes, out)
	if !errors.Is(err, alac.ErrInvalidData) {
		t.Fatalf("got %v, want ErrInvalidData", err)
	}
}

func TestDecodePacketRejectsNonZeroShiftInUncompressedMode(t *testing.T) {
	info := monoInfo(2, 16)

	w := &bitWriter{}
	elementHeader(w, 0, 0, 1 /* nonzero shift */, 1 /* escape: uncompressed */)

	dec, err := alac.NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out := make([]int16, dec.MaxSamplesPerPacket())

	_, err = alac.DecodePacket(dec, w.bytes, out)
	if !errors.Is(err, alac.ErrInvalidData) {
		t.Fatalf("got %v, want ErrInvalidData", err)
	}
}

func TestDecodePacketRejectsDifferingSampleCounts(t *testing.T) {
	// Two SCE elements: the first is a partial frame of 2 samples, the
	// second is non-partial and so must default to FrameLength (4), not to
	// the first element's count. The mismatch between 2 and 4 must be
	// rejected rather than silently accepted.
	info := stereoInfo(4, 16)

	w := &bitWriter{}
	elementHeader(w, 0, 1 /* partial frame */, 0, 1 /* escape: uncompressed */)
	w.writeBits(2, 32) // partial-frame sample count
	w.writeBits(0, 16) // sample 0
	w.writeBits(0, 16) // sample 1

	elementHeader(w, 0, 0 /* not partial: must default to FrameLength */, 0, 1)
	w.writeBits(0, 16) // sample 0
	w.writeBits(0, 16) // sample 1
	w.writeBits(0, 16) // sample 2
	w.writeBits(0, 16) // sample 3

	w.writeBits(7, 3) // END

	dec, err := alac.NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out := make([]int16, dec.MaxSamplesPerPacket())

	_, err = alac.DecodePacket(dec, w.bytes, out)
	if !errors.Is(err, alac.ErrInvalidData) {
		t.Fatalf("got %v, want ErrInvalidData", err)
	}
}

func TestDecodePacketRejectsCPEChanBitsOverflow(t *testing.T) {
	// 32-bit stream, CPE adds one decorrelation bit: chan_bits = 33 > 32.
	info := stereoInfo(2, 32)

	w := &bitWriter{}
	elementHeader(w, 1, 0, 0, 0)

	dec, err := alac.NewDecoder(info)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out := make([]int32, dec.MaxSamplesPerPacket())

	_, err = alac.DecodePacket(dec, w.bytes, out)
	if !errors.Is(err, alac.ErrInvalidData) {
		t.Fatalf("got %v, want ErrInvalidData", err)
	}
}
