package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/urfave/cli/v3"

	"github.com/hyphalcore/alac"
	"github.com/hyphalcore/alac/internal/wavwrite"
)

var errInvalidArgCount = errors.New("expected exactly one argument: file path")

func runDecode(_ context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return fmt.Errorf("%w: got %d", errInvalidArgCount, cmd.NArg())
	}

	path := cmd.Args().First()

	file, err := os.Open(path) //nolint:gosec // CLI tool opens a user-specified audio file
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	reader, err := alac.NewStreamReader(file)
	if err != nil {
		return fmt.Errorf("opening ALAC track: %w", err)
	}

	info := reader.StreamInfo()

	if cmd.Bool("info") {
		printInfo(info, reader)

		return nil
	}

	pcm, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("decoding: %w", err)
	}

	output := cmd.String("output")

	if cmd.Bool("raw") {
		return writeRaw(output, pcm)
	}

	return writeWAV(output, pcm, info)
}

func printInfo(info alac.StreamInfo, reader *alac.StreamReader) {
	_, _ = fmt.Fprintf(os.Stderr, "sample rate: %d Hz\n", info.SampleRate)
	_, _ = fmt.Fprintf(os.Stderr, "bit depth:   %d\n", info.BitDepth)
	_, _ = fmt.Fprintf(os.Stderr, "channels:    %d\n", info.NumChannels)
	_, _ = fmt.Fprintf(os.Stderr, "frame len:   %d\n", info.FrameLength)
	_, _ = fmt.Fprintf(os.Stderr, "duration:    %s\n", reader.Duration())
}

func writeRaw(output string, pcm []byte) error {
	if output == "-" {
		if _, err := os.Stdout.Write(pcm); err != nil {
			return fmt.Errorf("writing to stdout: %w", err)
		}

		return nil
	}

	if err := os.WriteFile(output, pcm, 0o644); err != nil { //nolint:gosec,mnd // CLI tool writes a user-specified output file
		return fmt.Errorf("writing %s: %w", output, err)
	}

	return nil
}

func writeWAV(output string, pcm []byte, info alac.StreamInfo) error {
	outBits := 16
	if info.BitDepth > 16 {
		outBits = 32
	}

	if output == "-" {
		if err := wavwrite.WriteHeader(os.Stdout, int(info.SampleRate), outBits, int(info.NumChannels), uint32(len(pcm))); err != nil {
			return err
		}

		if _, err := os.Stdout.Write(pcm); err != nil {
			return fmt.Errorf("writing PCM to stdout: %w", err)
		}

		return nil
	}

	out, err := os.Create(output) //nolint:gosec // CLI tool creates a user-specified output file
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}
	defer out.Close()

	enc := wav.NewEncoder(out, int(info.SampleRate), outBits, int(info.NumChannels), 1)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: int(info.NumChannels), SampleRate: int(info.SampleRate)},
		Data:           unpackSamples(pcm, outBits),
		SourceBitDepth: outBits,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("writing WAV samples: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing WAV encoder: %w", err)
	}

	return nil
}

// unpackSamples reverses the little-endian byte packing StreamReader applies,
// recovering the per-sample integers go-audio's encoder expects.
func unpackSamples(pcm []byte, bits int) []int {
	if bits == 16 {
		out := make([]int, len(pcm)/2)
		for i := range out {
			out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) //nolint:gosec // reversing our own packing
		}

		return out
	}

	out := make([]int, len(pcm)/4)
	for i := range out {
		out[i] = int(int32(binary.LittleEndian.Uint32(pcm[i*4:]))) //nolint:gosec // reversing our own packing
	}

	return out
}
