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

//nolint:gosec // Integer conversions are bounded by MP4 atom sizes.
package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Sample is the byte offset and size of one encoded ALAC packet within the
// container.
type Sample struct {
	Offset uint64
	Size   uint32
}

// Track is an ALAC track located inside an MP4/M4A file: its raw magic
// cookie and a flat table of packet offsets/sizes, in decode order.
type Track struct {
	Cookie  []byte
	Samples []Sample
}

// stscEntry mirrors the ISO 14496-12 sample-to-chunk table entry.
type stscEntry struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
}

// boxInfo holds the position and size of a parsed box.
type boxInfo struct {
	offset     int64   // offset of the box header start in the file
	size       int64   // total box size including header
	headerSize int64   // header size: 8 for normal, 16 for extended
	fourCC     [4]byte // four-character box type code
}

const (
	smallHeaderSize = 8
	largeHeaderSize = 16
	fullBoxSize     = 4 // version(1) + flags(3)
)

// readBoxInfo reads a single box header from the current position.
func readBoxInfo(reader io.ReadSeeker) (boxInfo, error) {
	offset, err := reader.Seek(0, io.SeekCurrent)
	if err != nil {
		return boxInfo{}, fmt.Errorf("seeking current position: %w", err)
	}

	var header [largeHeaderSize]byte

	if _, err := io.ReadFull(reader, header[:smallHeaderSize]); err != nil {
		return boxInfo{}, fmt.Errorf("reading box header: %w", err)
	}

	info := boxInfo{
		offset:     offset,
		headerSize: smallHeaderSize,
		fourCC:     [4]byte{header[4], header[5], header[6], header[7]},
	}

	rawSize := binary.BigEndian.Uint32(header[:4])

	switch rawSize {
	case 0:
		end, seekErr := reader.Seek(0, io.SeekEnd)
		if seekErr != nil {
			return boxInfo{}, fmt.Errorf("seeking to end of file: %w", seekErr)
		}

		info.size = end - offset

		if _, seekErr := reader.Seek(offset+info.headerSize, io.SeekStart); seekErr != nil {
			return boxInfo{}, fmt.Errorf("seeking past box header: %w", seekErr)
		}

	case 1:
		if _, err := io.ReadFull(reader, header[smallHeaderSize:largeHeaderSize]); err != nil {
			return boxInfo{}, fmt.Errorf("reading extended box header: %w", err)
		}

		info.headerSize = largeHeaderSize
		info.size = int64(binary.BigEndian.Uint64(header[smallHeaderSize:largeHeaderSize]))

	default:
		info.size = int64(rawSize)
	}

	if info.size < info.headerSize {
		return boxInfo{}, fmt.Errorf("%w: size %d at offset %d", ErrInvalidBoxSize, info.size, offset)
	}

	return info, nil
}

func (info *boxInfo) payloadOffset() int64 {
	return info.offset + info.headerSize
}

func (info *boxInfo) seekToPayload(reader io.ReadSeeker) error {
	if _, err := reader.Seek(info.payloadOffset(), io.SeekStart); err != nil {
		return fmt.Errorf("seeking to box payload: %w", err)
	}

	return nil
}

func (info *boxInfo) seekToEnd(reader io.ReadSeeker) error {
	if _, err := reader.Seek(info.offset+info.size, io.SeekStart); err != nil {
		return fmt.Errorf("seeking past box: %w", err)
	}

	return nil
}

func (info *boxInfo) payloadSize() int64 {
	return info.size - info.headerSize
}

// iterChildren calls callback for each direct child box within parent's
// payload. callback returns true to stop iteration early.
func iterChildren(
	reader io.ReadSeeker,
	parent *boxInfo,
	callback func(child boxInfo) (stop bool, err error),
) error {
	if err := parent.seekToPayload(reader); err != nil {
		return err
	}

	end := parent.offset + parent.size

	for {
		pos, err := reader.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("seeking current position: %w", err)
		}

		if pos >= end {
			return nil
		}

		child, err := readBoxInfo(reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}

			return err
		}

		stop, err := callback(child)
		if err != nil {
			return err
		}

		if stop {
			return nil
		}

		if err := child.seekToEnd(reader); err != nil {
			return err
		}
	}
}

func findChild(reader io.ReadSeeker, parent *boxInfo, target [4]byte) (boxInfo, bool, error) {
	var found boxInfo

	var matched bool

	err := iterChildren(reader, parent, func(child boxInfo) (bool, error) {
		if child.fourCC == target {
			found = child
			matched = true

			return true, nil
		}

		return false, nil
	})

	return found, matched, err
}

// findDescendant walks a path of fourCCs from parent, descending one level
// per element.
func findDescendant(reader io.ReadSeeker, parent *boxInfo, path [][4]byte) (boxInfo, bool, error) {
	current := *parent

	for _, target := range path {
		child, found, err := findChild(reader, &current, target)
		if err != nil {
			return boxInfo{}, false, err
		}

		if !found {
			return boxInfo{}, false, nil
		}

		current = child
	}

	return current, true, nil
}

var (
	fccMoov = [4]byte{'m', 'o', 'o', 'v'}
	fccTrak = [4]byte{'t', 'r', 'a', 'k'}
	fccMdia = [4]byte{'m', 'd', 'i', 'a'}
	fccMinf = [4]byte{'m', 'i', 'n', 'f'}
	fccStbl = [4]byte{'s', 't', 'b', 'l'}
)

// OpenTrack walks an MP4 box tree looking for the first track carrying an
// ALAC sample entry, returning its magic cookie and a flat packet table.
func OpenTrack(reader io.ReadSeeker) (Track, error) {
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return Track{}, fmt.Errorf("seeking to start: %w", err)
	}

	fileEnd, err := reader.Seek(0, io.SeekEnd)
	if err != nil {
		return Track{}, fmt.Errorf("seeking to end: %w", err)
	}

	root := boxInfo{offset: 0, size: fileEnd, headerSize: 0}

	moov, found, err := findChild(reader, &root, fccMoov)
	if err != nil {
		return Track{}, fmt.Errorf("reading container structure: %w", err)
	}

	if !found {
		return Track{}, ErrNoALACTrack
	}

	var track Track

	err = iterChildren(reader, &moov, func(trak boxInfo) (bool, error) {
		if trak.fourCC != fccTrak {
			return false, nil
		}

		stbl, stblFound, findErr := findDescendant(reader, &trak, [][4]byte{fccMdia, fccMinf, fccStbl})
		if findErr != nil || !stblFound {
			return false, findErr
		}

		cookie, cookieErr := extractCookie(reader, &stbl)
		if errors.Is(cookieErr, ErrNoALACTrack) {
			return false, nil // not an ALAC track, keep looking
		}

		if cookieErr != nil {
			return false, fmt.Errorf("extracting magic cookie: %w", cookieErr)
		}

		samples, tableErr := buildSampleTable(reader, &stbl)
		if tableErr != nil {
			return false, fmt.Errorf("building sample table: %w", tableErr)
		}

		track = Track{Cookie: cookie, Samples: samples}

		return true, nil
	})
	if err != nil {
		return Track{}, err
	}

	if track.Cookie == nil {
		return Track{}, ErrNoALACTrack
	}

	return track, nil
}

const (
	alacFourCC            = "alac"
	sampleEntryHeaderSize = 8  // box header: size(4) + type(4)
	sampleEntryBaseSize   = 28 // standard AudioSampleEntry fields
	sampleEntryV1Extra    = 16 // QuickTime version 1 extra fields
	stsdPayloadHeader     = 8  // version(1) + flags(3) + entryCount(4)
)

// extractCookie reads the stsd box from stbl, finds an 'alac' sample entry,
// and returns the raw magic cookie bytes (possibly still wrapped in
// 'frma'/'alac' legacy atoms, which alac.Parse strips).
func extractCookie(reader io.ReadSeeker, stbl *boxInfo) ([]byte, error) {
	fccStsd := [4]byte{'s', 't', 's', 'd'}

	stsd, found, err := findChild(reader, stbl, fccStsd)
	if err != nil || !found {
		return nil, ErrNoALACTrack
	}

	payloadLen := int(stsd.payloadSize())
	data := make([]byte, payloadLen)

	if err := stsd.seekToPayload(reader); err != nil {
		return nil, fmt.Errorf("seeking to stsd payload: %w", err)
	}

	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("reading stsd payload: %w", err)
	}

	if len(data) < stsdPayloadHeader {
		return nil, ErrNoALACTrack
	}

	entryCount := binary.BigEndian.Uint32(data[4:8])
	pos := stsdPayloadHeader

	for range entryCount {
		if pos+sampleEntryHeaderSize > len(data) {
			break
		}

		entrySize := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		if entrySize < sampleEntryHeaderSize+sampleEntryBaseSize || pos+entrySize > len(data) {
			pos += entrySize

			continue
		}

		if string(data[pos+4:pos+8]) != alacFourCC {
			pos += entrySize

			continue
		}

		version := binary.BigEndian.Uint16(data[pos+sampleEntryHeaderSize+8 : pos+sampleEntryHeaderSize+10])

		skip := sampleEntryHeaderSize + sampleEntryBaseSize
		if version == 1 {
			skip += sampleEntryV1Extra
		}

		cookieStart := pos + skip
		cookieEnd := pos + entrySize

		if cookieStart >= cookieEnd {
			return nil, ErrInvalidEntry
		}

		return data[cookieStart:cookieEnd], nil
	}

	return nil, ErrNoALACTrack
}

// buildSampleTable constructs a flat list of sample offsets and sizes from
// the stco/co64, stsc, and stsz boxes within the given stbl box.
func buildSampleTable(reader io.ReadSeeker, stbl *boxInfo) ([]Sample, error) {
	chunkOffsets, err := readChunkOffsets(reader, stbl)
	if err != nil {
		return nil, err
	}

	stscEntries, err := readStsc(reader, stbl)
	if err != nil {
		return nil, err
	}

	entrySizes, constantSize, sampleCount, err := readStsz(reader, stbl)
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, sampleCount)
	sampleIdx := 0

	for chunkIdx := range chunkOffsets {
		samplesInChunk := lookupSamplesPerChunk(stscEntries, uint32(chunkIdx+1)) // stsc uses 1-based chunk numbers
		chunkOffset := chunkOffsets[chunkIdx]

		for iter := uint32(0); iter < samplesInChunk && sampleIdx < int(sampleCount); iter++ {
			var size uint32
			if constantSize != 0 {
				size = constantSize
			} else {
				size = entrySizes[sampleIdx]
			}

			samples = append(samples, Sample{Offset: chunkOffset, Size: size})
			chunkOffset += uint64(size)
			sampleIdx++
		}
	}

	return samples, nil
}

func readChunkOffsets(reader io.ReadSeeker, stbl *boxInfo) ([]uint64, error) {
	fccStco := [4]byte{'s', 't', 'c', 'o'}
	fccCo64 := [4]byte{'c', 'o', '6', '4'}

	if stco, stcoFound, err := findChild(reader, stbl, fccStco); err == nil && stcoFound {
		return readStco(reader, &stco)
	}

	co64, found, err := findChild(reader, stbl, fccCo64)
	if err != nil || !found {
		return nil, ErrNoChunkOffset
	}

	return readCo64(reader, &co64)
}

// readStco reads a 32-bit chunk offset box.
func readStco(reader io.ReadSeeker, box *boxInfo) ([]uint64, error) {
	if err := box.seekToPayload(reader); err != nil {
		return nil, err
	}

	var header [fullBoxSize + 4]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoChunkOffset, err)
	}

	count := binary.BigEndian.Uint32(header[fullBoxSize:])

	buf := make([]byte, int(count)*4)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoChunkOffset, err)
	}

	offsets := make([]uint64, count)
	for idx := range count {
		offsets[idx] = uint64(binary.BigEndian.Uint32(buf[idx*4:]))
	}

	return offsets, nil
}

// readCo64 reads a 64-bit chunk offset box.
func readCo64(reader io.ReadSeeker, box *boxInfo) ([]uint64, error) {
	if err := box.seekToPayload(reader); err != nil {
		return nil, err
	}

	var header [fullBoxSize + 4]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCo64, err)
	}

	count := binary.BigEndian.Uint32(header[fullBoxSize:])

	buf := make([]byte, int(count)*8)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCo64, err)
	}

	offsets := make([]uint64, count)
	for idx := range count {
		offsets[idx] = binary.BigEndian.Uint64(buf[idx*8:])
	}

	return offsets, nil
}

// readStsc reads the sample-to-chunk box.
func readStsc(reader io.ReadSeeker, stbl *boxInfo) ([]stscEntry, error) {
	fccStsc := [4]byte{'s', 't', 's', 'c'}

	box, found, err := findChild(reader, stbl, fccStsc)
	if err != nil || !found {
		return nil, ErrNoStsc
	}

	if err := box.seekToPayload(reader); err != nil {
		return nil, err
	}

	var header [fullBoxSize + 4]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStsc, err)
	}

	count := binary.BigEndian.Uint32(header[fullBoxSize:])

	const entryBytes = 12 // 3 x uint32

	buf := make([]byte, int(count)*entryBytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStsc, err)
	}

	entries := make([]stscEntry, count)
	for idx := range count {
		off := int(idx) * entryBytes
		entries[idx] = stscEntry{
			FirstChunk:      binary.BigEndian.Uint32(buf[off:]),
			SamplesPerChunk: binary.BigEndian.Uint32(buf[off+4:]),
		}
	}

	return entries, nil
}

// readStsz reads the sample size box.
//
//revive:disable:function-result-limit,confusing-results
func readStsz(reader io.ReadSeeker, stbl *boxInfo) ([]uint32, uint32, uint32, error) {
	fccStsz := [4]byte{'s', 't', 's', 'z'}

	box, found, err := findChild(reader, stbl, fccStsz)
	if err != nil || !found {
		return nil, 0, 0, ErrNoStsz
	}

	if err := box.seekToPayload(reader); err != nil {
		return nil, 0, 0, fmt.Errorf("seeking to stsz payload: %w", err)
	}

	var header [fullBoxSize + 8]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %w", ErrInvalidStsz, err)
	}

	sampleSize := binary.BigEndian.Uint32(header[fullBoxSize:])
	sampleCount := binary.BigEndian.Uint32(header[fullBoxSize+4:])

	if sampleSize != 0 {
		return nil, sampleSize, sampleCount, nil
	}

	buf := make([]byte, int(sampleCount)*4)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %w", ErrInvalidStsz, err)
	}

	sizes := make([]uint32, sampleCount)
	for idx := range sampleCount {
		sizes[idx] = binary.BigEndian.Uint32(buf[idx*4:])
	}

	return sizes, 0, sampleCount, nil
}

// lookupSamplesPerChunk finds the samples-per-chunk count for a 1-based
// chunk number from the stsc run-length table.
func lookupSamplesPerChunk(entries []stscEntry, chunkNumber uint32) uint32 {
	var samplesPerChunk uint32

	for _, entry := range entries {
		if entry.FirstChunk > chunkNumber {
			break
		}

		samplesPerChunk = entry.SamplesPerChunk
	}

	return samplesPerChunk
}
