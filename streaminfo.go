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

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	cookieSize     = 24 // ALACSpecificConfig binary size.
	atomHeaderSize = 12 // MPEG-4 atom header: size(4) + type(4) + payload(4).
	sdpFieldCount  = 11
)

// StreamInfo holds the fixed per-stream parameters an ALAC decoder needs,
// equivalent to the fields carried by an ALACSpecificConfig magic cookie.
type StreamInfo struct {
	FrameLength       uint32
	CompatibleVersion uint8
	BitDepth          uint8
	PB                uint8
	MB                uint8
	KB                uint8
	NumChannels       uint8
	MaxRun            uint16
	MaxFrameBytes     uint32
	AvgBitRate        uint32
	SampleRate        uint32
}

// Parse reads a StreamInfo from a magic cookie byte slice, transparently
// skipping a leading 'frma' atom and/or 'alac' atom wrapper if present.
func Parse(cookie []byte) (StreamInfo, error) {
	data := cookie

	if len(data) >= atomHeaderSize && string(data[4:8]) == "frma" {
		data = data[atomHeaderSize:]
	}

	if len(data) >= atomHeaderSize && string(data[4:8]) == "alac" {
		data = data[atomHeaderSize:]
	}

	if len(data) < cookieSize {
		return StreamInfo{}, fmt.Errorf("%w: magic cookie too short: %d bytes", ErrInvalidData, len(data))
	}

	compatibleVersion := data[4]
	if compatibleVersion != 0 {
		return StreamInfo{}, fmt.Errorf("%w: unsupported compatible version %d", ErrInvalidData, compatibleVersion)
	}

	info := StreamInfo{
		FrameLength:       binary.BigEndian.Uint32(data[0:4]),
		CompatibleVersion: compatibleVersion,
		BitDepth:          data[5],
		PB:                data[6],
		MB:                data[7],
		KB:                data[8],
		NumChannels:       data[9],
		MaxRun:            binary.BigEndian.Uint16(data[10:12]),
		MaxFrameBytes:     binary.BigEndian.Uint32(data[12:16]),
		AvgBitRate:        binary.BigEndian.Uint32(data[16:20]),
		SampleRate:        binary.BigEndian.Uint32(data[20:24]),
	}

	if err := info.validate(); err != nil {
		return StreamInfo{}, err
	}

	return info, nil
}

// FromSDP parses a StreamInfo from its textual (SDP fmtp) representation:
// eleven whitespace-separated decimal fields in the same order as the
// magic cookie: frame_length compatible_version bit_depth pb mb kb
// num_channels max_run max_frame_bytes avg_bit_rate sample_rate.
func FromSDP(s string) (StreamInfo, error) {
	fields := strings.Fields(s)
	if len(fields) != sdpFieldCount {
		return StreamInfo{}, fmt.Errorf("%w: sdp descriptor needs %d fields, got %d",
			ErrInvalidData, sdpFieldCount, len(fields))
	}

	values := make([]uint64, sdpFieldCount)

	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return StreamInfo{}, fmt.Errorf("%w: sdp field %d: %w", ErrInvalidData, i, err)
		}

		values[i] = v
	}

	info := StreamInfo{
		FrameLength:       uint32(values[0]),
		CompatibleVersion: uint8(values[1]),
		BitDepth:          uint8(values[2]),
		PB:                uint8(values[3]),
		MB:                uint8(values[4]),
		KB:                uint8(values[5]),
		NumChannels:       uint8(values[6]),
		MaxRun:            uint16(values[7]),
		MaxFrameBytes:     uint32(values[8]),
		AvgBitRate:        uint32(values[9]),
		SampleRate:        uint32(values[10]),
	}

	if err := info.validate(); err != nil {
		return StreamInfo{}, err
	}

	return info, nil
}

func (info StreamInfo) validate() error {
	if info.NumChannels == 0 {
		return fmt.Errorf("%w: num_channels must be non-zero", ErrInvalidData)
	}

	if info.BitDepth == 0 {
		return fmt.Errorf("%w: bit_depth must be non-zero", ErrInvalidData)
	}

	if product := uint64(info.FrameLength) * uint64(info.NumChannels); product > math.MaxUint32 {
		return fmt.Errorf("%w: frame_length * num_channels overflows uint32", ErrInvalidData)
	}

	if info.CompatibleVersion != 0 {
		return fmt.Errorf("%w: unsupported compatible version %d", ErrInvalidData, info.CompatibleVersion)
	}

	return nil
}
