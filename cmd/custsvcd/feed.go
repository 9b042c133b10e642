package main

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/XC-/atts/config"
	"github.com/XC-/atts/ecg"
)

// sampleRate of the synthetic recording, in Hz.
const sampleRate = 250

type ecgNotifier interface {
	NotifyECGSample(samples []int16) error
	NotifyECGMask(mask []ecg.HeartSegment) error
	NotifyECGResult(r ecg.Result) error
}

// feed notifies a synthetic ECG trace: every interval a window of
// samples, its segmentation mask and a classification result.
type feed struct {
	svc ecgNotifier
	cfg config.Feed
	log logrus.FieldLogger

	n int // samples generated so far
}

func newFeed(svc ecgNotifier, cfg config.Feed, log logrus.FieldLogger) *feed {
	return &feed{svc: svc, cfg: cfg, log: log}
}

func (f *feed) run(ctx context.Context) error {
	t := time.NewTicker(f.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := f.step(); err != nil {
			f.log.WithError(err).Warn("ecg feed")
		}
	}
}

func (f *feed) step() error {
	samples, mask, beats := f.window(f.cfg.Samples)
	if err := f.svc.NotifyECGSample(samples); err != nil {
		return err
	}
	if err := f.svc.NotifyECGMask(mask); err != nil {
		return err
	}
	return f.svc.NotifyECGResult(ecg.Result{
		HeartRate:  uint16(f.cfg.BPM),
		RateClass:  ecg.RateFromBPM(float64(f.cfg.BPM)),
		Rhythm:     ecg.RhythmNormal,
		NormalBeat: uint16(beats),
	})
}

// window generates the next n samples. Each beat is a P wave, a QRS
// spike and a T wave at fixed fractions of the beat period.
func (f *feed) window(n int) ([]int16, []ecg.HeartSegment, int) {
	period := sampleRate * 60 / f.cfg.BPM
	samples := make([]int16, n)
	mask := make([]ecg.HeartSegment, n)
	beats := 0
	for i := range samples {
		phase := float64((f.n+i)%period) / float64(period)
		if (f.n+i)%period == 0 {
			beats++
		}
		var v float64
		switch {
		case phase >= 0.10 && phase < 0.20:
			v = 150 * math.Sin((phase-0.10)/0.10*math.Pi)
			mask[i] = ecg.SegmentPWave
		case phase >= 0.25 && phase < 0.33:
			v = 1200 * math.Sin((phase-0.25)/0.08*math.Pi)
			mask[i] = ecg.SegmentQRS
		case phase >= 0.45 && phase < 0.65:
			v = 300 * math.Sin((phase-0.45)/0.20*math.Pi)
			mask[i] = ecg.SegmentTWave
		}
		samples[i] = int16(v)
	}
	f.n += n
	return samples, mask, beats
}
