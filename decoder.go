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

//nolint:gosec // Integer conversions match the ALAC reference implementation's fixed-width arithmetic.
package alac

import (
	"fmt"

	"github.com/hyphalcore/alac/internal/bitio"
	"github.com/hyphalcore/alac/internal/lpc"
	"github.com/hyphalcore/alac/internal/rice"
	"github.com/hyphalcore/alac/internal/stereo"
)

// Element type tags from the ALAC bitstream.
const (
	elemSCE = 0 // Single Channel Element
	elemCPE = 1 // Channel Pair Element
	elemCCE = 2 // Coupling Channel Element (unsupported)
	elemLFE = 3 // LFE Channel Element
	elemDSE = 4 // Data Stream Element
	elemPCE = 5 // Program Config Element (unsupported)
	elemFIL = 6 // Fill Element
	elemEND = 7 // End of frame
)

const unusedHeaderBits = 12

// Decoder decodes ALAC packets for a single fixed StreamInfo into
// interleaved signed PCM samples. A Decoder is not safe for concurrent use;
// its scratch buffers are reused across calls.
type Decoder struct {
	info StreamInfo

	mixBufferU  []int32
	mixBufferV  []int32
	predictor   []int32
	shiftBuffer []uint16
	interleaved []int32

	cursor bitio.Cursor
}

// NewDecoder allocates a Decoder sized for info. info is revalidated even
// if it was produced by Parse or FromSDP, since callers may construct one
// by hand.
func NewDecoder(info StreamInfo) (*Decoder, error) {
	if err := info.validate(); err != nil {
		return nil, err
	}

	frameLen := int(info.FrameLength)

	return &Decoder{
		info:        info,
		mixBufferU:  make([]int32, frameLen),
		mixBufferV:  make([]int32, frameLen),
		predictor:   make([]int32, frameLen),
		shiftBuffer: make([]uint16, frameLen*2),
		interleaved: make([]int32, frameLen*int(info.NumChannels)),
	}, nil
}

// StreamInfo returns the StreamInfo the Decoder was constructed with.
func (d *Decoder) StreamInfo() StreamInfo {
	return d.info
}

// decodePacket parses one ALAC packet and fills d.interleaved with
// reconstructed, but not yet width-narrowed, samples. It returns the
// number of samples decoded per channel.
func (d *Decoder) decodePacket(packet []byte) (int, error) {
	d.cursor.Reset(packet)

	numChan := int(d.info.NumChannels)
	chanIdx := 0

	var frameSamples uint32

	haveSampleCount := false

	for {
		if d.cursor.AtEnd() {
			return 0, fmt.Errorf("%w: packet ended before an END element", ErrInvalidData)
		}

		tag, err := d.cursor.ReadU8(3)
		if err != nil {
			return 0, fmt.Errorf("%w: reading element tag: %w", ErrInvalidData, err)
		}

		switch tag {
		case elemSCE, elemLFE:
			if chanIdx+1 > numChan {
				return 0, fmt.Errorf("%w: channel element exceeds channel count", ErrInvalidData)
			}

			ns, err := d.decodeSCE(chanIdx, numChan, d.info.FrameLength)
			if err != nil {
				return 0, fmt.Errorf("%w: SCE/LFE: %w", ErrInvalidData, err)
			}

			if err := checkSampleCount(&frameSamples, &haveSampleCount, ns); err != nil {
				return 0, err
			}

			chanIdx++

		case elemCPE:
			if chanIdx+2 > numChan {
				return 0, fmt.Errorf("%w: channel pair exceeds channel count", ErrInvalidData)
			}

			ns, err := d.decodeCPE(chanIdx, numChan, d.info.FrameLength)
			if err != nil {
				return 0, fmt.Errorf("%w: CPE: %w", ErrInvalidData, err)
			}

			if err := checkSampleCount(&frameSamples, &haveSampleCount, ns); err != nil {
				return 0, err
			}

			chanIdx += 2

		case elemCCE, elemPCE:
			return 0, fmt.Errorf("%w: unsupported element type %d (CCE/PCE)", ErrInvalidData, tag)

		case elemDSE:
			if err := d.skipDSE(); err != nil {
				return 0, fmt.Errorf("%w: DSE: %w", ErrInvalidData, err)
			}

		case elemFIL:
			if err := d.skipFIL(); err != nil {
				return 0, fmt.Errorf("%w: FIL: %w", ErrInvalidData, err)
			}

		case elemEND:
			d.cursor.SkipToByte()

			if chanIdx != numChan {
				return 0, fmt.Errorf("%w: channel count mismatch at END: got %d, want %d",
					ErrInvalidData, chanIdx, numChan)
			}

			return int(frameSamples), nil

		default:
			return 0, fmt.Errorf("%w: unreachable element tag %d", ErrInvalidData, tag)
		}
	}
}

// checkSampleCount records the first channel element's sample count and
// rejects any later element whose count differs from it: every channel
// element in a packet must carry the same number of samples.
func checkSampleCount(frameSamples *uint32, have *bool, ns uint32) error {
	if !*have {
		*frameSamples = ns
		*have = true

		return nil
	}

	if ns != *frameSamples {
		return fmt.Errorf("%w: channel elements have differing sample counts: got %d, want %d",
			ErrInvalidData, ns, *frameSamples)
	}

	return nil
}

// decodeSCE decodes a Single Channel Element (mono) or LFE element into
// mixBufferU, then writes it into the interleaved output at chanIdx.
func (d *Decoder) decodeSCE(chanIdx, numChan int, numSamples uint32) (uint32, error) {
	if _, err := d.cursor.ReadU8(4); err != nil { // element instance tag, discarded
		return 0, err
	}

	unused, err := d.cursor.ReadU32(unusedHeaderBits)
	if err != nil {
		return 0, err
	}

	if unused != 0 {
		return 0, fmt.Errorf("%w: non-zero reserved header bits", ErrInvalidData)
	}

	headerByte, err := d.cursor.ReadU8(4)
	if err != nil {
		return 0, err
	}

	partialFrame := headerByte >> 3
	bytesShifted := int((headerByte >> 1) & 0x3)

	if bytesShifted == 3 {
		return 0, fmt.Errorf("%w: invalid sample_shift_bytes value 3", ErrInvalidData)
	}

	escapeFlag := headerByte & 0x1

	if partialFrame != 0 {
		numSamples, err = d.readPartialFrameCount()
		if err != nil {
			return 0, err
		}

		if numSamples > d.info.FrameLength {
			return 0, fmt.Errorf("%w: partial frame sample count exceeds frame length", ErrInvalidData)
		}
	}

	if escapeFlag == 0 {
		chanBits := uint32(d.info.BitDepth) - uint32(bytesShifted)*8
		if chanBits > 32 {
			return 0, fmt.Errorf("%w: chan_bits %d exceeds 32", ErrInvalidData, chanBits)
		}

		if err := d.decodeCompressed(chanBits, bytesShifted, int(numSamples), 1); err != nil {
			return 0, err
		}

		if bytesShifted != 0 {
			shift := uint(bytesShifted * 8)
			for i := 0; i < int(numSamples); i++ {
				d.mixBufferU[i] = (d.mixBufferU[i] << shift) | int32(d.shiftBuffer[i])
			}
		}
	} else {
		if bytesShifted != 0 {
			return 0, fmt.Errorf("%w: sample_shift_bytes must be 0 in uncompressed mode", ErrInvalidData)
		}

		if err := d.decodeUncompressed(uint32(d.info.BitDepth), int(numSamples), 1); err != nil {
			return 0, err
		}
	}

	stride := numChan

	for i := 0; i < int(numSamples); i++ {
		d.interleaved[i*stride+chanIdx] = d.mixBufferU[i]
	}

	return numSamples, nil
}

// decodeCPE decodes a Channel Pair Element (stereo) into mixBufferU/V,
// reverses the decorrelation transform, then writes both channels into the
// interleaved output starting at chanIdx.
func (d *Decoder) decodeCPE(chanIdx, numChan int, numSamples uint32) (uint32, error) {
	if _, err := d.cursor.ReadU8(4); err != nil { // element instance tag, discarded
		return 0, err
	}

	unused, err := d.cursor.ReadU32(unusedHeaderBits)
	if err != nil {
		return 0, err
	}

	if unused != 0 {
		return 0, fmt.Errorf("%w: non-zero reserved header bits", ErrInvalidData)
	}

	headerByte, err := d.cursor.ReadU8(4)
	if err != nil {
		return 0, err
	}

	partialFrame := headerByte >> 3
	bytesShifted := int((headerByte >> 1) & 0x3)

	if bytesShifted == 3 {
		return 0, fmt.Errorf("%w: invalid sample_shift_bytes value 3", ErrInvalidData)
	}

	escapeFlag := headerByte & 0x1

	if partialFrame != 0 {
		numSamples, err = d.readPartialFrameCount()
		if err != nil {
			return 0, err
		}

		if numSamples > d.info.FrameLength {
			return 0, fmt.Errorf("%w: partial frame sample count exceeds frame length", ErrInvalidData)
		}
	}

	var mixBits, mixRes int32

	if escapeFlag == 0 {
		// A channel pair carries one extra bit of precision for the
		// decorrelation remainder.
		chanBits := uint32(d.info.BitDepth) - uint32(bytesShifted)*8 + 1
		if chanBits > 32 {
			return 0, fmt.Errorf("%w: chan_bits %d exceeds 32", ErrInvalidData, chanBits)
		}

		mixBits, mixRes, err = d.decodeCPECompressed(chanBits, bytesShifted, int(numSamples))
		if err != nil {
			return 0, err
		}
	} else {
		if bytesShifted != 0 {
			return 0, fmt.Errorf("%w: sample_shift_bytes must be 0 in uncompressed mode", ErrInvalidData)
		}

		if err := d.decodeUncompressed(uint32(d.info.BitDepth), int(numSamples), 2); err != nil {
			return 0, err
		}

		bytesShifted = 0
	}

	n := int(numSamples)
	stereo.Unmix(d.mixBufferU[:n], d.mixBufferV[:n], mixBits, mixRes)

	if bytesShifted != 0 {
		shift := uint(bytesShifted * 8)
		for i := 0; i < n; i++ {
			d.mixBufferU[i] = (d.mixBufferU[i] << shift) | int32(d.shiftBuffer[i*2+0])
			d.mixBufferV[i] = (d.mixBufferV[i] << shift) | int32(d.shiftBuffer[i*2+1])
		}
	}

	stride := numChan

	for i := 0; i < n; i++ {
		d.interleaved[i*stride+chanIdx+0] = d.mixBufferU[i]
		d.interleaved[i*stride+chanIdx+1] = d.mixBufferV[i]
	}

	return numSamples, nil
}

func (d *Decoder) readPartialFrameCount() (uint32, error) {
	return d.cursor.ReadU32(32)
}

// lpcHeader holds one channel's predictor parameters as read from the
// bitstream: lpc_mode/lpc_quant/pb_factor/lpc_order followed by lpc_order
// 16-bit signed coefficients.
type lpcHeader struct {
	lpcMode  uint8
	denShift uint32
	pbFactor uint32
	coefs    []int16
}

// readLPCHeader reads one channel element's predictor header and
// coefficient table. Coefficients arrive most-recent-tap-first on the
// wire; Reconstruct expects coefs[order-1] to be the most-recent tap, so
// they are stored reversed from read order.
func (d *Decoder) readLPCHeader() (lpcHeader, error) {
	headerByte, err := d.cursor.ReadU8(8)
	if err != nil {
		return lpcHeader{}, err
	}

	lpcMode := headerByte >> 4
	denShift := uint32(headerByte & 0xf)

	headerByte, err = d.cursor.ReadU8(8)
	if err != nil {
		return lpcHeader{}, err
	}

	pbFactor := uint32(headerByte >> 5)
	order := int(headerByte & 0x1f)

	if lpcMode != 0 && lpcMode != 15 {
		return lpcHeader{}, fmt.Errorf("%w: unsupported lpc_mode %d", ErrInvalidData, lpcMode)
	}

	if lpcMode == 0 && order == lpc.MaxOrder {
		return lpcHeader{}, fmt.Errorf("%w: lpc_order 31 requires lpc_mode 15", ErrInvalidData)
	}

	coefs := make([]int16, order)

	for i := 0; i < order; i++ {
		c, err := d.cursor.ReadU32(16)
		if err != nil {
			return lpcHeader{}, err
		}

		coefs[order-1-i] = int16(c)
	}

	return lpcHeader{lpcMode: lpcMode, denShift: denShift, pbFactor: pbFactor, coefs: coefs}, nil
}

// decodeResidual Rice-decodes chanBits-wide residuals for one channel and
// reverses the linear prediction (or order-31 differential coding) in
// place into dst.
func (d *Decoder) decodeResidual(dst []int32, h lpcHeader, chanBits uint32, numSamples int) error {
	params := rice.Params{
		MeanBase:    uint32(d.info.MB),
		HistoryMult: (uint32(d.info.PB) * h.pbFactor) / 4,
		KMax:        uint32(d.info.KB),
	}

	buf := d.predictor[:numSamples]
	if err := rice.Decompress(&d.cursor, buf, uint(chanBits), params); err != nil {
		return fmt.Errorf("entropy decode: %w", err)
	}

	if h.lpcMode == 15 {
		lpc.Differential(buf, uint(chanBits))
	}

	copy(dst[:numSamples], buf)
	lpc.Reconstruct(dst[:numSamples], h.coefs, h.denShift, uint(chanBits))

	return nil
}

// decodeCompressed decodes a single-channel compressed audio payload: an
// unused mix-parameter pair, the LPC header, an optional extra-bits
// region, and the Rice-coded residuals, reconstructing into mixBufferU.
func (d *Decoder) decodeCompressed(chanBits uint32, bytesShifted, numSamples, elementChannels int) error {
	if _, err := d.cursor.ReadU8(8); err != nil { // mix_bits, unused for mono
		return err
	}

	if _, err := d.cursor.ReadU8(8); err != nil { // mix_res, unused for mono
		return err
	}

	h, err := d.readLPCHeader()
	if err != nil {
		return err
	}

	var shiftCursor bitio.Cursor

	if bytesShifted != 0 {
		shiftCursor = d.cursor.Clone()

		if err := d.cursor.Skip(uint(bytesShifted) * 8 * uint(elementChannels) * uint(numSamples)); err != nil {
			return err
		}
	}

	if err := d.decodeResidual(d.mixBufferU, h, chanBits, numSamples); err != nil {
		return err
	}

	if bytesShifted != 0 {
		shift := uint(bytesShifted * 8)

		for i := 0; i < numSamples; i++ {
			v, err := shiftCursor.ReadU32(shift)
			if err != nil {
				return err
			}

			d.shiftBuffer[i] = uint16(v)
		}
	}

	return nil
}

// decodeCPECompressed decodes a stereo compressed payload: shared mix
// parameters, both channels' LPC headers, then (once both headers are
// known) the single interleaved extra-bits region and the two channels'
// Rice-coded residuals in turn.
func (d *Decoder) decodeCPECompressed(chanBits uint32, bytesShifted, numSamples int) (mixBits, mixRes int32, err error) {
	mb, err := d.cursor.ReadU8(8)
	if err != nil {
		return 0, 0, err
	}

	mr, err := d.cursor.ReadU8(8)
	if err != nil {
		return 0, 0, err
	}

	mixBits = int32(mb)
	mixRes = int32(int8(mr))

	hu, err := d.readLPCHeader()
	if err != nil {
		return 0, 0, fmt.Errorf("U channel header: %w", err)
	}

	hv, err := d.readLPCHeader()
	if err != nil {
		return 0, 0, fmt.Errorf("V channel header: %w", err)
	}

	var shiftCursor bitio.Cursor

	if bytesShifted != 0 {
		shiftCursor = d.cursor.Clone()

		if err := d.cursor.Skip(uint(bytesShifted) * 8 * 2 * uint(numSamples)); err != nil {
			return 0, 0, err
		}
	}

	if err := d.decodeResidual(d.mixBufferU, hu, chanBits, numSamples); err != nil {
		return 0, 0, fmt.Errorf("U channel: %w", err)
	}

	if err := d.decodeResidual(d.mixBufferV, hv, chanBits, numSamples); err != nil {
		return 0, 0, fmt.Errorf("V channel: %w", err)
	}

	if bytesShifted != 0 {
		shift := uint(bytesShifted * 8)

		for i := 0; i < numSamples; i++ {
			u, err := shiftCursor.ReadU32(shift)
			if err != nil {
				return 0, 0, err
			}

			v, err := shiftCursor.ReadU32(shift)
			if err != nil {
				return 0, 0, err
			}

			d.shiftBuffer[i*2+0] = uint16(u)
			d.shiftBuffer[i*2+1] = uint16(v)
		}
	}

	return mixBits, mixRes, nil
}

// decodeUncompressed reads elementChannels * numSamples raw, sign-extended
// chanBits-wide samples directly into mixBufferU (and mixBufferV for a
// channel pair).
func (d *Decoder) decodeUncompressed(chanBits uint32, numSamples, elementChannels int) error {
	shift := 32 - chanBits

	for i := 0; i < numSamples; i++ {
		v, err := d.cursor.ReadU32(uint(chanBits))
		if err != nil {
			return err
		}

		d.mixBufferU[i] = (int32(v) << shift) >> shift

		if elementChannels == 2 {
			v, err := d.cursor.ReadU32(uint(chanBits))
			if err != nil {
				return err
			}

			d.mixBufferV[i] = (int32(v) << shift) >> shift
		}
	}

	return nil
}

// skipFIL skips a Fill Element.
func (d *Decoder) skipFIL() error {
	count, err := d.cursor.ReadU8(4)
	if err != nil {
		return err
	}

	n := int(count)
	if n == 15 {
		extra, err := d.cursor.ReadU8(8)
		if err != nil {
			return err
		}

		n += int(extra) - 1
	}

	return d.cursor.Skip(uint(n) * 8)
}

// skipDSE skips a Data Stream Element.
func (d *Decoder) skipDSE() error {
	if _, err := d.cursor.ReadU8(4); err != nil { // element instance tag, discarded
		return err
	}

	align, err := d.cursor.ReadBit()
	if err != nil {
		return err
	}

	count, err := d.cursor.ReadU8(8)
	if err != nil {
		return err
	}

	n := int(count)
	if n == 255 {
		extra, err := d.cursor.ReadU8(8)
		if err != nil {
			return err
		}

		n += int(extra)
	}

	if align {
		d.cursor.SkipToByte()
	}

	return d.cursor.Skip(uint(n) * 8)
}
