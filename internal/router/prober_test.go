package router

import "testing"

func TestProbeStateUnhealthyAfterThreeFailures(t *testing.T) {
	p := &prober{states: map[string]*probeState{"u": {healthy: true}}}

	p.record("u", false)
	p.record("u", false)
	if !p.isHealthy("u") {
		t.Fatal("should still be healthy after 2 failures")
	}
	p.record("u", false)
	if p.isHealthy("u") {
		t.Fatal("should be unhealthy after 3 consecutive failures")
	}
}

func TestProbeStateHealthyAfterTwoPasses(t *testing.T) {
	p := &prober{states: map[string]*probeState{"u": {healthy: false}}}

	p.record("u", true)
	if p.isHealthy("u") {
		t.Fatal("should still be unhealthy after 1 pass")
	}
	p.record("u", true)
	if !p.isHealthy("u") {
		t.Fatal("should be healthy after 2 consecutive passes")
	}
}

func TestProbeStateFailureResetsPassStreak(t *testing.T) {
	p := &prober{states: map[string]*probeState{"u": {healthy: false}}}

	p.record("u", true)
	p.record("u", false)
	p.record("u", true)
	if p.isHealthy("u") {
		t.Fatal("a single pass after a reset should not flip to healthy")
	}
}

func TestIsHealthyDefaultsTrueForUnmonitoredBackend(t *testing.T) {
	p := &prober{states: map[string]*probeState{}}
	if !p.isHealthy("never-registered") {
		t.Error("an unmonitored backend must always be considered healthy")
	}
}
