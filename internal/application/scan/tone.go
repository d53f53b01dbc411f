package scan

import (
	"encoding/binary"
	"math"
	"time"
)

// Audio feedback for scan results. The station has no speaker API of its
// own; it synthesizes small WAV clips that the UI fetches once and plays
// on each event. Frequencies and durations are fixed so operators learn
// the sounds: a short high blip for success, a falling two-note buzz for
// rejection.

const (
	sampleRate = 44100
	amplitude  = 0.6
)

type note struct {
	freq float64
	dur  time.Duration
}

// SuccessTone returns the WAV clip played after an accepted scan.
func SuccessTone() []byte {
	return encodeWAV(synthesize([]note{{freq: 880, dur: 90 * time.Millisecond}}))
}

// FailureTone returns the WAV clip played after a rejected scan.
func FailureTone() []byte {
	return encodeWAV(synthesize([]note{
		{freq: 200, dur: 120 * time.Millisecond},
		{freq: 160, dur: 160 * time.Millisecond},
	}))
}

// synthesize renders the notes back to back as 16-bit mono PCM. A short
// linear ramp at each note edge avoids audible clicks.
func synthesize(notes []note) []int16 {
	var samples []int16
	for _, n := range notes {
		count := int(float64(sampleRate) * n.dur.Seconds())
		ramp := sampleRate / 200 // 5ms
		if ramp > count/2 {
			ramp = count / 2
		}
		for i := 0; i < count; i++ {
			v := amplitude * math.Sin(2*math.Pi*n.freq*float64(i)/sampleRate)
			switch {
			case i < ramp:
				v *= float64(i) / float64(ramp)
			case i >= count-ramp:
				v *= float64(count-i) / float64(ramp)
			}
			samples = append(samples, int16(v*math.MaxInt16))
		}
	}
	return samples
}

// encodeWAV wraps PCM samples in a minimal RIFF/WAVE container.
func encodeWAV(samples []int16) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, 0, 44+dataLen)

	le := binary.LittleEndian
	u32 := func(v uint32) []byte { b := make([]byte, 4); le.PutUint32(b, v); return b }
	u16 := func(v uint16) []byte { b := make([]byte, 2); le.PutUint16(b, v); return b }

	buf = append(buf, "RIFF"...)
	buf = append(buf, u32(uint32(36+dataLen))...)
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	buf = append(buf, u32(16)...)
	buf = append(buf, u16(1)...) // PCM
	buf = append(buf, u16(1)...) // mono
	buf = append(buf, u32(sampleRate)...)
	buf = append(buf, u32(sampleRate*2)...) // byte rate
	buf = append(buf, u16(2)...)            // block align
	buf = append(buf, u16(16)...)           // bits per sample

	buf = append(buf, "data"...)
	buf = append(buf, u32(uint32(dataLen))...)
	for _, s := range samples {
		buf = append(buf, u16(uint16(s))...)
	}
	return buf
}
