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

// Package wavwrite writes a minimal canonical-form WAV (RIFF/PCM) header
// directly to a non-seekable writer. It exists for the one case the
// go-audio/wav encoder can't serve: a destination, such as stdout, that
// can't be seeked back into to patch a size field after the fact. The
// caller must know the exact PCM payload size up front.
package wavwrite

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	wavFormatPCM = 1
	headerSize   = 44
)

// ErrUnsupportedBitDepth is returned for a bit depth WriteHeader can't pack
// into a conventional PCM WAV fmt chunk.
var ErrUnsupportedBitDepth = errors.New("wavwrite: unsupported bit depth")

// WriteHeader writes a 44-byte canonical PCM WAV header describing a
// dataSize-byte payload that follows it. bitDepth must be 16 or 32.
func WriteHeader(w io.Writer, sampleRate, bitDepth, channels int, dataSize uint32) error {
	switch bitDepth {
	case 16, 32:
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}

	byteRate := uint32(sampleRate * channels * bitDepth / 8) //nolint:gosec // bounded by real stream parameters
	blockAlign := uint16(channels * bitDepth / 8)             //nolint:gosec // bounded by real stream parameters

	var header [headerSize]byte

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], dataSize+36)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels)) //nolint:gosec // bounded by real stream parameters
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate)) //nolint:gosec // bounded by real stream parameters
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitDepth)) //nolint:gosec // bitDepth is validated above
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing WAV header: %w", err)
	}

	return nil
}
