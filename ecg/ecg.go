// Package ecg encodes the payloads of the ECG characteristics of the
// customized service: raw samples, segmentation masks and the
// classification result.
package ecg

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// HeartRhythm is the rhythm classification of a recording.
type HeartRhythm uint8

const (
	RhythmNormal HeartRhythm = iota
	RhythmAfib
	RhythmAflut
	RhythmNoise
)

var rhythmNames = [...]string{"normal", "afib", "aflut", "noise"}

func (r HeartRhythm) String() string {
	if int(r) < len(rhythmNames) {
		return rhythmNames[r]
	}
	return fmt.Sprintf("HeartRhythm(%d)", uint8(r))
}

// HeartBeat is the classification of a single beat.
type HeartBeat uint8

const (
	BeatNormal HeartBeat = iota
	BeatPAC
	BeatPVC
	BeatNoise
)

var beatNames = [...]string{"normal", "pac", "pvc", "noise"}

func (b HeartBeat) String() string {
	if int(b) < len(beatNames) {
		return beatNames[b]
	}
	return fmt.Sprintf("HeartBeat(%d)", uint8(b))
}

// HeartRate is the heart rate class.
type HeartRate uint8

const (
	RateNormal HeartRate = iota
	RateTachycardia
	RateBradycardia
	RateNoise
)

var rateNames = [...]string{"normal", "tachy", "brady", "noise"}

func (r HeartRate) String() string {
	if int(r) < len(rateNames) {
		return rateNames[r]
	}
	return fmt.Sprintf("HeartRate(%d)", uint8(r))
}

// RateFromBPM classifies a heart rate in beats per minute.
func RateFromBPM(bpm float64) HeartRate {
	switch {
	case bpm < 60:
		return RateBradycardia
	case bpm > 100:
		return RateTachycardia
	}
	return RateNormal
}

// HeartSegment labels one sample of a segmentation mask.
type HeartSegment uint8

const (
	SegmentNormal HeartSegment = iota
	SegmentPWave
	SegmentQRS
	SegmentTWave
)

var segmentNames = [...]string{"normal", "pwave", "qrs", "twave"}

func (s HeartSegment) String() string {
	if int(s) < len(segmentNames) {
		return segmentNames[s]
	}
	return fmt.Sprintf("HeartSegment(%d)", uint8(s))
}

// PackSamples encodes samples as little-endian int16 values, split into
// chunks of at most capacity bytes. A sample is never split across chunks.
func PackSamples(samples []int16, capacity int) [][]byte {
	per := capacity / 2
	if per == 0 {
		return nil
	}
	var chunks [][]byte
	for len(samples) > 0 {
		n := min(per, len(samples))
		b := make([]byte, 2*n)
		for i, v := range samples[:n] {
			binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
		}
		chunks = append(chunks, b)
		samples = samples[n:]
	}
	return chunks
}

// UnpackSamples decodes a chunk produced by PackSamples.
func UnpackSamples(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, errors.Errorf("sample chunk of odd length %d", len(b))
	}
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return samples, nil
}

// PackMask encodes one byte per label, split into chunks of at most
// capacity bytes.
func PackMask(mask []HeartSegment, capacity int) [][]byte {
	if capacity <= 0 {
		return nil
	}
	var chunks [][]byte
	for len(mask) > 0 {
		n := min(capacity, len(mask))
		b := make([]byte, n)
		for i, s := range mask[:n] {
			b[i] = byte(s)
		}
		chunks = append(chunks, b)
		mask = mask[n:]
	}
	return chunks
}

// A Result is the outcome of classifying one recording.
type Result struct {
	HeartRate  uint16      `cbor:"1,keyasint"` // beats per minute
	RateClass  HeartRate   `cbor:"2,keyasint"`
	Rhythm     HeartRhythm `cbor:"3,keyasint"`
	NormalBeat uint16      `cbor:"4,keyasint"`
	PACBeat    uint16      `cbor:"5,keyasint"`
	PVCBeat    uint16      `cbor:"6,keyasint"`
}

// ErrResultTooLong is returned when an encoded Result does not fit
// the characteristic.
var ErrResultTooLong = errors.New("encoded result exceeds characteristic size")

var (
	resultEncMode cbor.EncMode
	resultDecMode cbor.DecMode
)

func init() {
	var err error
	resultEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create result CBOR encoder mode: %v", err))
	}
	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	resultDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create result CBOR decoder mode: %v", err))
	}
}

// MarshalResult encodes r as deterministic CBOR with integer keys.
// It fails with ErrResultTooLong when the encoding exceeds capacity bytes.
func MarshalResult(r Result, capacity int) ([]byte, error) {
	b, err := resultEncMode.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "encode result")
	}
	if len(b) > capacity {
		return nil, errors.Wrapf(ErrResultTooLong, "%d bytes, capacity %d", len(b), capacity)
	}
	return b, nil
}

// UnmarshalResult decodes a Result encoded by MarshalResult.
func UnmarshalResult(b []byte) (Result, error) {
	var r Result
	if err := resultDecMode.Unmarshal(b, &r); err != nil {
		return Result{}, errors.Wrap(err, "decode result")
	}
	return r, nil
}
