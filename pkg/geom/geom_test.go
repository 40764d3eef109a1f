package geom

import (
	"math"
	"testing"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func pointNear(a, b Point3) bool {
	return near(a.X, b.X) && near(a.Y, b.Y) && near(a.Z, b.Z)
}

func TestRotateZ(t *testing.T) {
	q := AxisAngle(Point3{Z: 1}, math.Pi/2)
	got := q.Rotate(Point3{X: 1})
	if !pointNear(got, Point3{Y: 1}) {
		t.Errorf("rotate +90 about Z: got %+v, want (0,1,0)", got)
	}
}

func TestTransformApply(t *testing.T) {
	tf := Transform{
		Translation: Point3{X: 10},
		Rotation:    AxisAngle(Point3{Z: 1}, math.Pi/2),
	}
	got := tf.Apply(Point3{X: 1})
	if !pointNear(got, Point3{X: 10, Y: 1}) {
		t.Errorf("apply: got %+v, want (10,1,0)", got)
	}
}

func TestRotateOnlyIgnoresTranslation(t *testing.T) {
	tf := Transform{
		Translation: Point3{X: 100, Y: 50},
		Rotation:    AxisAngle(Point3{Z: 1}, math.Pi),
	}
	got := tf.RotateOnly(Point3{X: 1})
	if !pointNear(got, Point3{X: -1}) {
		t.Errorf("rotate-only: got %+v, want (-1,0,0)", got)
	}
}

func TestInverseRoundTrip(t *testing.T) {
	tf := Transform{
		Translation: Point3{X: 3, Y: -7, Z: 2},
		Rotation:    AxisAngle(Point3{X: 1, Y: 2, Z: 3}, 0.7),
	}
	p := Point3{X: 12, Y: -4, Z: 9}
	got := tf.Inverse().Apply(tf.Apply(p))
	if !pointNear(got, p) {
		t.Errorf("inverse round trip: got %+v, want %+v", got, p)
	}
}

func TestComposeMatchesSequentialApply(t *testing.T) {
	a := Transform{
		Translation: Point3{X: 1},
		Rotation:    AxisAngle(Point3{Z: 1}, 0.3),
	}
	b := Transform{
		Translation: Point3{Y: 2},
		Rotation:    AxisAngle(Point3{X: 1}, -0.5),
	}
	p := Point3{X: 5, Y: 6, Z: 7}
	got := a.Compose(b).Apply(p)
	want := a.Apply(b.Apply(p))
	if !pointNear(got, want) {
		t.Errorf("compose: got %+v, want %+v", got, want)
	}
}

func TestNormalizedZero(t *testing.T) {
	q := Quaternion{}.Normalized()
	if q != Identity() {
		t.Errorf("zero quaternion should normalize to identity, got %+v", q)
	}
}

func TestDegreesRadians(t *testing.T) {
	if !near(Radians(180), math.Pi) {
		t.Errorf("Radians(180) = %f", Radians(180))
	}
	if !near(Degrees(math.Pi/2), 90) {
		t.Errorf("Degrees(pi/2) = %f", Degrees(math.Pi/2))
	}
}
