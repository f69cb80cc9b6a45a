// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     audio
// Description: 16-bit PCM WAV encoding and decoding
// Created:     2025-12-07
// License:     MIT
// ============================================================================

package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WAVInfo describes a decoded WAV file
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// EncodeWAV writes mono float32 samples as a 16-bit PCM WAV stream
func EncodeWAV(w io.Writer, samples []float32, sampleRate int) error {
	pcm := Float32ToInt16(samples)

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	byteRate := uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8
	blockAlign := numChannels * bitsPerSample / 8
	dataSize := uint32(len(pcm) * 2)

	var buf bytes.Buffer
	buf.Grow(44 + int(dataSize))

	// RIFF header
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	// fmt chunk
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, numChannels)
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, bitsPerSample)

	// data chunk
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	binary.Write(&buf, binary.LittleEndian, pcm)

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteWAVFile writes samples to a WAV file at path
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// DecodeWAV parses a 16-bit PCM WAV file. Multi-channel audio is downmixed to mono.
func DecodeWAV(data []byte) ([]float32, WAVInfo, error) {
	var info WAVInfo

	if len(data) < 44 {
		return nil, info, fmt.Errorf("file too small to be a valid WAV")
	}
	if string(data[0:4]) != "RIFF" {
		return nil, info, fmt.Errorf("not a valid RIFF file")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, info, fmt.Errorf("not a valid WAVE file")
	}

	pos := 12
	var dataStart, dataSize int
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && pos+24 <= len(data) {
				info.Channels = int(binary.LittleEndian.Uint16(data[pos+10 : pos+12]))
				info.SampleRate = int(binary.LittleEndian.Uint32(data[pos+12 : pos+16]))
				info.BitsPerSample = int(binary.LittleEndian.Uint16(data[pos+22 : pos+24]))
			}
		case "data":
			dataStart = pos + 8
			dataSize = chunkSize
		}

		pos += 8 + chunkSize
		if pos%2 != 0 {
			pos++ // word alignment
		}
	}

	if info.SampleRate == 0 || dataStart == 0 {
		return nil, info, fmt.Errorf("missing required WAV chunks")
	}
	if info.BitsPerSample != 16 {
		return nil, info, fmt.Errorf("unsupported bits per sample: %d", info.BitsPerSample)
	}
	if info.Channels == 0 {
		info.Channels = 1
	}
	if dataStart+dataSize > len(data) {
		dataSize = len(data) - dataStart
	}

	raw := data[dataStart : dataStart+dataSize]
	frames := len(raw) / 2 / info.Channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < info.Channels; c++ {
			off := (i*info.Channels + c) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(raw[off:off+2]))) / 32768.0
		}
		out[i] = sum / float32(info.Channels)
	}
	return out, info, nil
}

// ReadWAVFile decodes the WAV file at path
func ReadWAVFile(path string) ([]float32, WAVInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WAVInfo{}, fmt.Errorf("failed to read file: %w", err)
	}
	return DecodeWAV(data)
}

// DecodePCM16 converts raw little-endian PCM16 bytes to float32
func DecodePCM16(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768.0
	}
	return out
}
