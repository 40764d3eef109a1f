package ik

import (
	"math"
	"testing"

	"mjmech-go-migration/pkg/geom"
)

func testConfig() Config {
	c := Config{
		Shoulder:   JointConfig{ID: 1},
		Femur:      JointConfig{ID: 2},
		Tibia:      JointConfig{ID: 3},
		ShoulderMM: 30,
		FemurMM:    130,
		TibiaMM:    135,
	}
	c.ApplyDefaults()
	return c
}

func jointsAt(shoulder, femur, tibia float64) []Joint {
	return []Joint{
		{ID: 1, AngleDeg: shoulder},
		{ID: 2, AngleDeg: femur},
		{ID: 3, AngleDeg: tibia},
	}
}

func TestForwardZeroPose(t *testing.T) {
	m := New(testConfig())
	e := m.Forward(jointsAt(0, 0, 0))

	want := geom.Point3{X: 0, Y: 30, Z: -265}
	if math.Abs(e.PoseMMG.X-want.X) > 1e-6 ||
		math.Abs(e.PoseMMG.Y-want.Y) > 1e-6 ||
		math.Abs(e.PoseMMG.Z-want.Z) > 1e-6 {
		t.Errorf("zero pose = %+v, want %+v", e.PoseMMG, want)
	}
}

func TestForwardStandUpPose(t *testing.T) {
	m := New(testConfig())
	e := m.Forward(jointsAt(0, 135, -120))

	// Crouched: foot forward of the hip and above the fully extended
	// position.
	if e.PoseMMG.X <= 0 {
		t.Errorf("stand-up pose X = %f, want > 0", e.PoseMMG.X)
	}
	if e.PoseMMG.Z <= -265 {
		t.Errorf("stand-up pose Z = %f, want > -265", e.PoseMMG.Z)
	}
}

func TestInverseForwardRoundTrip(t *testing.T) {
	m := New(testConfig())

	poses := [][3]float64{
		{0, 135, -120},
		{10, 90, -60},
		{-15, 45, -100},
		{5, 120, -90},
	}

	for _, pose := range poses {
		e := m.Forward(jointsAt(pose[0], pose[1], pose[2]))

		solved, ok := m.Inverse(Effector{PoseMMG: e.PoseMMG}, jointsAt(pose[0], pose[1], pose[2]))
		if !ok {
			t.Errorf("pose %v: inverse failed", pose)
			continue
		}

		for i, want := range pose {
			if math.Abs(solved[i].AngleDeg-want) > 1e-3 {
				t.Errorf("pose %v joint %d: solved %f, want %f",
					pose, solved[i].ID, solved[i].AngleDeg, want)
			}
		}
	}
}

func TestInverseUnreachable(t *testing.T) {
	m := New(testConfig())

	targets := []geom.Point3{
		{X: 0, Y: 30, Z: -1000}, // beyond full extension
		{X: 500, Y: 30, Z: 0},   // too far forward
		{X: 0, Y: 1, Z: -1},     // inside the shoulder offset
	}

	for _, target := range targets {
		if _, ok := m.Inverse(Effector{PoseMMG: target}, nil); ok {
			t.Errorf("target %+v: expected unreachable", target)
		}
	}
}

func TestInverseRespectsLimits(t *testing.T) {
	cfg := testConfig()
	cfg.Femur.MinDeg = 0
	cfg.Femur.MaxDeg = 90
	m := New(cfg)

	// The round-trip target for femur=135 violates the narrowed limit.
	e := New(testConfig()).Forward(jointsAt(0, 135, -120))
	if _, ok := m.Inverse(Effector{PoseMMG: e.PoseMMG}, nil); ok {
		t.Error("expected limit violation to fail the solve")
	}
}

func TestInverseKneeBranchFollowsCurrent(t *testing.T) {
	m := New(testConfig())

	e := m.Forward(jointsAt(0, 45, 100))
	solved, ok := m.Inverse(Effector{PoseMMG: e.PoseMMG}, jointsAt(0, 45, 100))
	if !ok {
		t.Fatal("inverse failed for forward-knee pose")
	}
	if solved[2].AngleDeg <= 0 {
		t.Errorf("tibia = %f, want positive branch", solved[2].AngleDeg)
	}
}

func TestVelocityRoundTrip(t *testing.T) {
	m := New(testConfig())

	current := []Joint{
		{ID: 1, AngleDeg: 5, VelocityDps: 10},
		{ID: 2, AngleDeg: 100, VelocityDps: -20},
		{ID: 3, AngleDeg: -80, VelocityDps: 15},
	}
	e := m.Forward(current)

	solved, ok := m.Inverse(e, current)
	if !ok {
		t.Fatal("inverse failed")
	}

	for i, want := range current {
		if math.Abs(solved[i].VelocityDps-want.VelocityDps) > 1e-2 {
			t.Errorf("joint %d velocity: solved %f, want %f",
				want.ID, solved[i].VelocityDps, want.VelocityDps)
		}
	}
}

func TestForwardUnknownJointPanics(t *testing.T) {
	m := New(testConfig())

	defer func() {
		if recover() == nil {
			t.Error("expected panic for missing joint id")
		}
	}()
	m.Forward([]Joint{{ID: 99}})
}
