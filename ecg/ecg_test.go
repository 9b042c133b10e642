package ecg

import (
	"encoding/hex"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackSamples(t *testing.T) {
	samples := make([]int16, 25)
	for i := range samples {
		samples[i] = int16(i - 12)
	}
	chunks := PackSamples(samples, 20)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 20)
	assert.Len(t, chunks[1], 20)
	assert.Len(t, chunks[2], 10)
	assert.Equal(t, "f4ff", hex.EncodeToString(chunks[0][:2]))

	var got []int16
	for _, c := range chunks {
		s, err := UnpackSamples(c)
		require.NoError(t, err)
		got = append(got, s...)
	}
	assert.Equal(t, samples, got)

	// Odd capacities never split a sample.
	for _, c := range PackSamples(samples, 7) {
		assert.LessOrEqual(t, len(c), 6)
		assert.Zero(t, len(c)%2)
	}
	assert.Nil(t, PackSamples(samples, 1))
	assert.Nil(t, PackSamples(nil, 20))

	_, err := UnpackSamples([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestPackMask(t *testing.T) {
	mask := []HeartSegment{SegmentNormal, SegmentPWave, SegmentQRS, SegmentTWave, SegmentQRS}
	chunks := PackMask(mask, 3)
	require.Len(t, chunks, 2)
	assert.Equal(t, []byte{0, 1, 2}, chunks[0])
	assert.Equal(t, []byte{3, 2}, chunks[1])
	assert.Nil(t, PackMask(mask, 0))
}

func TestMarshalResult(t *testing.T) {
	r := Result{HeartRate: 72, RateClass: RateFromBPM(72), Rhythm: RhythmNormal, NormalBeat: 10}
	b, err := MarshalResult(r, 20)
	require.NoError(t, err)
	assert.Equal(t, "a601184802000300040a05000600", hex.EncodeToString(b))

	back, err := UnmarshalResult(b)
	require.NoError(t, err)
	assert.Equal(t, r, back)

	big := Result{HeartRate: 300, RateClass: RateTachycardia, Rhythm: RhythmAfib, NormalBeat: 1000, PACBeat: 1000, PVCBeat: 1000}
	_, err = MarshalResult(big, 20)
	assert.Equal(t, ErrResultTooLong, errors.Cause(err))

	_, err = UnmarshalResult([]byte{0xff})
	assert.Error(t, err)
}

func TestRateFromBPM(t *testing.T) {
	cases := []struct {
		bpm  float64
		want HeartRate
	}{
		{bpm: 45, want: RateBradycardia},
		{bpm: 60, want: RateNormal},
		{bpm: 100, want: RateNormal},
		{bpm: 101, want: RateTachycardia},
	}
	for _, tt := range cases {
		assert.Equal(t, tt.want, RateFromBPM(tt.bpm), "bpm %v", tt.bpm)
	}
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "afib", RhythmAfib.String())
	assert.Equal(t, "pvc", BeatPVC.String())
	assert.Equal(t, "brady", RateBradycardia.String())
	assert.Equal(t, "qrs", SegmentQRS.String())
	assert.Equal(t, "HeartSegment(9)", HeartSegment(9).String())
}
