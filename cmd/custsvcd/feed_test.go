package main

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XC-/atts/config"
	"github.com/XC-/atts/ecg"
)

type recordingNotifier struct {
	samples [][]int16
	masks   [][]ecg.HeartSegment
	results []ecg.Result
}

func (r *recordingNotifier) NotifyECGSample(s []int16) error {
	r.samples = append(r.samples, s)
	return nil
}

func (r *recordingNotifier) NotifyECGMask(m []ecg.HeartSegment) error {
	r.masks = append(r.masks, m)
	return nil
}

func (r *recordingNotifier) NotifyECGResult(res ecg.Result) error {
	r.results = append(r.results, res)
	return nil
}

func TestFeedStep(t *testing.T) {
	log := logrus.New()
	log.Out = io.Discard
	rec := &recordingNotifier{}
	f := newFeed(rec, config.Feed{Samples: 250, BPM: 60}, log)

	require.NoError(t, f.step())
	require.Len(t, rec.samples, 1)
	assert.Len(t, rec.samples[0], 250)
	assert.Len(t, rec.masks[0], 250)
	assert.Equal(t, ecg.Result{HeartRate: 60, RateClass: ecg.RateNormal, NormalBeat: 1}, rec.results[0])

	// One beat per second at 60 bpm: one QRS complex per window.
	qrs := 0
	for i, m := range rec.masks[0] {
		if m == ecg.SegmentQRS && (i == 0 || rec.masks[0][i-1] != ecg.SegmentQRS) {
			qrs++
		}
	}
	assert.Equal(t, 1, qrs)
	assert.Equal(t, 250, f.n)
}
