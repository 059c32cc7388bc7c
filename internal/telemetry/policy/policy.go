// Package policy centralizes runtime-tunable telemetry knobs behind one
// atomically-swappable snapshot, so health thresholds and trace sampling
// can be retuned without restarting the scheduler.
package policy

import "time"

type TelemetryPolicy struct {
	Health  HealthPolicy
	Tracing TracingPolicy
	Events  EventBusPolicy
}

type HealthPolicy struct {
	ProbeTTL                  time.Duration
	CyclerMinSamples          int
	CyclerDegradedErrorRatio  float64
	CyclerUnhealthyErrorRatio float64
	RecordingDegradedBacklog  int
	RecordingUnhealthyBacklog int
}

type TracingPolicy struct {
	SamplePercent float64
}

type EventBusPolicy struct {
	MaxSubscriberBuffer int
}

// Default returns the policy a scheduler starts with absent operator
// overrides.
func Default() TelemetryPolicy {
	return TelemetryPolicy{
		Health: HealthPolicy{
			ProbeTTL:                  2 * time.Second,
			CyclerMinSamples:          10,
			CyclerDegradedErrorRatio:  0.10,
			CyclerUnhealthyErrorRatio: 0.50,
			RecordingDegradedBacklog:  256,
			RecordingUnhealthyBacklog: 512,
		},
		Tracing: TracingPolicy{SamplePercent: 20},
		Events:  EventBusPolicy{MaxSubscriberBuffer: 1024},
	}
}

// Normalize returns a copy with any zero/out-of-range field replaced by
// its default, without mutating the receiver.
func (p TelemetryPolicy) Normalize() TelemetryPolicy {
	c := p
	if c.Health.ProbeTTL <= 0 {
		c.Health.ProbeTTL = 2 * time.Second
	}
	if c.Health.CyclerMinSamples <= 0 {
		c.Health.CyclerMinSamples = 10
	}
	if c.Health.CyclerDegradedErrorRatio <= 0 {
		c.Health.CyclerDegradedErrorRatio = 0.10
	}
	if c.Health.CyclerUnhealthyErrorRatio <= 0 {
		c.Health.CyclerUnhealthyErrorRatio = 0.50
	}
	if c.Health.RecordingDegradedBacklog <= 0 {
		c.Health.RecordingDegradedBacklog = 256
	}
	if c.Health.RecordingUnhealthyBacklog <= 0 {
		c.Health.RecordingUnhealthyBacklog = 512
	}
	if c.Tracing.SamplePercent < 0 {
		c.Tracing.SamplePercent = 0
	}
	if c.Tracing.SamplePercent > 100 {
		c.Tracing.SamplePercent = 100
	}
	if c.Events.MaxSubscriberBuffer <= 0 {
		c.Events.MaxSubscriberBuffer = 1024
	}
	return c
}
