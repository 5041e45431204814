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
	"io"
	"time"

	"github.com/hyphalcore/alac/internal/container"
)

// StreamReader streams decoded, little-endian interleaved PCM bytes from an
// ALAC track inside an MP4/M4A container. It wraps a Decoder with the
// container demuxing and per-sample byte packing that lie outside the core
// packet decoder's scope.
//
// Streams with a bit depth of 16 emit 2-byte little-endian samples;
// anything wider (20/24/32-bit) emits 4-byte little-endian samples,
// left-aligned within the 32-bit word as StreamInfo.BitDepth dictates.
type StreamReader struct {
	reader io.ReadSeeker
	dec    *Decoder
	track  container.Track

	sampleIdx int
	packetBuf []byte
	int16Buf  []int16
	int32Buf  []int32
	bytesPer  int
	pcm       []byte
	pcmOff    int
	exhausted bool
}

// NewStreamReader opens rs, locates its ALAC track, and returns a reader of
// the track's decoded PCM.
func NewStreamReader(rs io.ReadSeeker) (*StreamReader, error) {
	track, err := container.OpenTrack(rs)
	if err != nil {
		return nil, fmt.Errorf("%w: locating ALAC track: %w", ErrInvalidData, err)
	}

	info, err := Parse(track.Cookie)
	if err != nil {
		return nil, err
	}

	dec, err := NewDecoder(info)
	if err != nil {
		return nil, err
	}

	bytesPer := 2
	if info.BitDepth > 16 {
		bytesPer = 4
	}

	sr := &StreamReader{
		reader:   rs,
		dec:      dec,
		track:    track,
		bytesPer: bytesPer,
		pcm:      make([]byte, 0, dec.MaxSamplesPerPacket()*bytesPer),
	}

	if bytesPer == 2 {
		sr.int16Buf = make([]int16, dec.MaxSamplesPerPacket())
	} else {
		sr.int32Buf = make([]int32, dec.MaxSamplesPerPacket())
	}

	return sr, nil
}

// StreamInfo returns the decoded track's stream parameters.
func (s *StreamReader) StreamInfo() StreamInfo {
	return s.dec.StreamInfo()
}

// Duration estimates the track's total playback duration from its packet
// count and frame length.
func (s *StreamReader) Duration() time.Duration {
	info := s.dec.StreamInfo()
	totalFrames := int64(len(s.track.Samples)) * int64(info.FrameLength)

	return time.Duration(totalFrames * int64(time.Second) / int64(info.SampleRate))
}

// Read fills p with decoded PCM bytes, decoding further packets as needed.
// It implements io.Reader.
func (s *StreamReader) Read(p []byte) (int, error) { //nolint:varnamelen // p is idiomatic for io.Reader.Read
	total := 0

	for len(p) > 0 {
		if s.pcmOff < len(s.pcm) {
			n := copy(p, s.pcm[s.pcmOff:])
			s.pcmOff += n
			total += n
			p = p[n:]

			continue
		}

		if s.exhausted {
			if total > 0 {
				return total, nil
			}

			return 0, io.EOF
		}

		if s.sampleIdx >= len(s.track.Samples) {
			s.exhausted = true

			if total > 0 {
				return total, nil
			}

			return 0, io.EOF
		}

		if err := s.decodeNextPacket(); err != nil {
			return total, err
		}
	}

	return total, nil
}

func (s *StreamReader) decodeNextPacket() error {
	sample := s.track.Samples[s.sampleIdx]

	if int(sample.Size) > len(s.packetBuf) {
		s.packetBuf = make([]byte, sample.Size)
	}

	packet := s.packetBuf[:sample.Size]

	if _, err := s.reader.Seek(int64(sample.Offset), io.SeekStart); err != nil {
		return fmt.Errorf("seeking to packet %d at offset %d: %w", s.sampleIdx, sample.Offset, err)
	}

	if _, err := io.ReadFull(s.reader, packet); err != nil {
		return fmt.Errorf("reading packet %d: %w", s.sampleIdx, err)
	}

	if s.bytesPer == 2 {
		out, err := DecodePacket(s.dec, packet, s.int16Buf)
		if err != nil {
			return fmt.Errorf("decoding packet %d: %w", s.sampleIdx, err)
		}

		s.pcm = s.pcm[:len(out)*2]
		for i, v := range out {
			binary.LittleEndian.PutUint16(s.pcm[i*2:], uint16(v))
		}
	} else {
		out, err := DecodePacket(s.dec, packet, s.int32Buf)
		if err != nil {
			return fmt.Errorf("decoding packet %d: %w", s.sampleIdx, err)
		}

		s.pcm = s.pcm[:len(out)*4]
		for i, v := range out {
			binary.LittleEndian.PutUint32(s.pcm[i*4:], uint32(v))
		}
	}

	s.pcmOff = 0
	s.sampleIdx++

	return nil
}
