// Package ik implements forward and inverse kinematics for a 3-DOF
// mammal-style leg: a shoulder roll joint followed by femur and tibia
// pitch joints sharing a sagittal plane.
//
// Leg geometry frame G: x forward, y lateral (away from the body), z up.
// At all-zero joint angles the foot hangs straight down, offset laterally
// by shoulder_mm.
package ik

import (
	"fmt"
	"math"

	"mjmech-go-migration/pkg/geom"
)

// Joint carries the per-joint quantities the solver consumes and produces.
type Joint struct {
	ID          int
	AngleDeg    float64
	VelocityDps float64
	TorqueNm    float64
}

// Effector is the end-of-leg pose, velocity, and force in frame G.
type Effector struct {
	PoseMMG     geom.Point3
	VelocityMMSG geom.Point3
	ForceNG     geom.Point3
}

// JointConfig names one joint of the leg and its allowed range.
type JointConfig struct {
	ID     int     `json:"id"`
	MinDeg float64 `json:"min_deg"`
	MaxDeg float64 `json:"max_deg"`
}

// Config is the leg geometry: three joints and three lengths.
type Config struct {
	Shoulder JointConfig `json:"shoulder"`
	Femur    JointConfig `json:"femur"`
	Tibia    JointConfig `json:"tibia"`

	// ShoulderMM is the lateral offset from the shoulder roll axis to
	// the femur/tibia plane.
	ShoulderMM float64 `json:"shoulder_mm"`
	FemurMM    float64 `json:"femur_mm"`
	TibiaMM    float64 `json:"tibia_mm"`
}

// ApplyDefaults fills unset joint limits.
func (c *Config) ApplyDefaults() {
	for _, jc := range []*JointConfig{&c.Shoulder, &c.Femur, &c.Tibia} {
		if jc.MinDeg == 0 && jc.MaxDeg == 0 {
			jc.MinDeg = -360.0
			jc.MaxDeg = 360.0
		}
	}
}

// Validate checks the geometry is usable.
func (c *Config) Validate() error {
	if c.FemurMM <= 0 || c.TibiaMM <= 0 {
		return fmt.Errorf("femur_mm/tibia_mm must be positive, got %v/%v",
			c.FemurMM, c.TibiaMM)
	}
	return nil
}

// MammalIK solves one leg.
type MammalIK struct {
	config Config
}

// New creates a solver for the given geometry.
func New(config Config) *MammalIK {
	return &MammalIK{config: config}
}

// Config returns the solver's geometry.
func (m *MammalIK) Config() Config {
	return m.config
}

func findJoint(joints []Joint, id int) Joint {
	for _, j := range joints {
		if j.ID == id {
			return j
		}
	}
	panic(fmt.Sprintf("ik: unknown joint id %d", id))
}

// forwardPosition computes the foot position for joint angles in radians.
func (m *MammalIK) forwardPosition(as, af, at float64) geom.Point3 {
	f := m.config.FemurMM
	t := m.config.TibiaMM

	// In the sagittal plane, z' measured downward.
	px := f*math.Sin(af) + t*math.Sin(af+at)
	pz := f*math.Cos(af) + t*math.Cos(af+at)

	// Roll the plane about x by the shoulder angle.
	y0 := m.config.ShoulderMM
	z0 := -pz
	sin, cos := math.Sin(as), math.Cos(as)
	return geom.Point3{
		X: px,
		Y: y0*cos - z0*sin,
		Z: y0*sin + z0*cos,
	}
}

// jacobian returns d(position)/d(angle) columns in mm per radian,
// evaluated by central differences.
func (m *MammalIK) jacobian(as, af, at float64) [3][3]float64 {
	const h = 1e-6
	var j [3][3]float64
	angles := [3]float64{as, af, at}
	for col := 0; col < 3; col++ {
		plus := angles
		minus := angles
		plus[col] += h
		minus[col] -= h
		pp := m.forwardPosition(plus[0], plus[1], plus[2])
		pm := m.forwardPosition(minus[0], minus[1], minus[2])
		j[0][col] = (pp.X - pm.X) / (2 * h)
		j[1][col] = (pp.Y - pm.Y) / (2 * h)
		j[2][col] = (pp.Z - pm.Z) / (2 * h)
	}
	return j
}

// Forward computes the effector state from joint telemetry. The joints
// slice must contain entries for all three configured joint ids; anything
// else is a programming error.
func (m *MammalIK) Forward(joints []Joint) Effector {
	shoulder := findJoint(joints, m.config.Shoulder.ID)
	femur := findJoint(joints, m.config.Femur.ID)
	tibia := findJoint(joints, m.config.Tibia.ID)

	as := geom.Radians(shoulder.AngleDeg)
	af := geom.Radians(femur.AngleDeg)
	at := geom.Radians(tibia.AngleDeg)

	var result Effector
	result.PoseMMG = m.forwardPosition(as, af, at)

	j := m.jacobian(as, af, at)
	qdot := [3]float64{
		geom.Radians(shoulder.VelocityDps),
		geom.Radians(femur.VelocityDps),
		geom.Radians(tibia.VelocityDps),
	}
	result.VelocityMMSG = matVec(j, qdot)

	// tau = J^T F; invert to expose endpoint force. Near singularities
	// the force estimate is left at zero.
	tau := [3]float64{shoulder.TorqueNm, femur.TorqueNm, tibia.TorqueNm}
	if force, ok := solve3(transpose(j), tau); ok {
		// J is mm/rad, so J^T F gives N*mm torque per radian; torques
		// are N*m, hence the 1000 scale.
		result.ForceNG = geom.Point3{
			X: force[0] * 1000,
			Y: force[1] * 1000,
			Z: force[2] * 1000,
		}
	}

	return result
}

// Inverse computes the three joint commands that place the effector at
// the requested pose with the requested velocity and force. It returns
// false when the target is out of reach, violates joint limits, or sits
// on a singularity. The solver always takes the foot-below-hip shoulder
// branch; the current joint state selects the knee-bend branch.
func (m *MammalIK) Inverse(effector Effector, current []Joint) ([]Joint, bool) {
	f := m.config.FemurMM
	t := m.config.TibiaMM
	p := effector.PoseMMG

	// Shoulder roll: un-roll the target so the leg plane offset matches.
	r2 := p.Y*p.Y + p.Z*p.Z
	s := m.config.ShoulderMM
	l2 := r2 - s*s
	if l2 < 0 {
		return nil, false
	}
	l := math.Sqrt(l2)
	as := math.Atan2(l, s) - math.Atan2(-p.Z, p.Y)

	// Two-link solution in the sagittal plane, z' downward.
	reach2 := p.X*p.X + l2
	reach := math.Sqrt(reach2)
	if reach > f+t || reach < math.Abs(f-t) {
		return nil, false
	}

	cosGamma := (f*f + t*t - reach2) / (2 * f * t)
	if cosGamma < -1 || cosGamma > 1 {
		return nil, false
	}
	gamma := math.Acos(cosGamma)

	// Knee bend direction follows the current tibia angle; a tibia at
	// exactly zero takes the flexed-back branch used by the stand-up
	// pose.
	kneeSign := -1.0
	for _, j := range current {
		if j.ID == m.config.Tibia.ID && j.AngleDeg > 0 {
			kneeSign = 1.0
		}
	}
	at := kneeSign * (math.Pi - gamma)

	phi := math.Atan2(p.X, l)
	alpha := math.Atan2(t*math.Sin(-at), f+t*math.Cos(at))
	af := phi + alpha

	angles := [3]float64{as, af, at}
	limits := [3]JointConfig{m.config.Shoulder, m.config.Femur, m.config.Tibia}
	for i, a := range angles {
		deg := geom.Degrees(a)
		if deg < limits[i].MinDeg || deg > limits[i].MaxDeg {
			return nil, false
		}
	}

	// Map endpoint velocity and force back into joint space at the
	// solved configuration.
	j := m.jacobian(as, af, at)
	v := [3]float64{effector.VelocityMMSG.X, effector.VelocityMMSG.Y, effector.VelocityMMSG.Z}
	qdot, ok := solve3(j, v)
	if !ok {
		return nil, false
	}

	force := [3]float64{effector.ForceNG.X, effector.ForceNG.Y, effector.ForceNG.Z}
	tau := matVec(transpose(j), force)

	result := []Joint{
		{
			ID:          m.config.Shoulder.ID,
			AngleDeg:    geom.Degrees(as),
			VelocityDps: geom.Degrees(qdot[0]),
			TorqueNm:    tau.X / 1000,
		},
		{
			ID:          m.config.Femur.ID,
			AngleDeg:    geom.Degrees(af),
			VelocityDps: geom.Degrees(qdot[1]),
			TorqueNm:    tau.Y / 1000,
		},
		{
			ID:          m.config.Tibia.ID,
			AngleDeg:    geom.Degrees(at),
			VelocityDps: geom.Degrees(qdot[2]),
			TorqueNm:    tau.Z / 1000,
		},
	}
	return result, true
}

func matVec(m [3][3]float64, v [3]float64) geom.Point3 {
	return geom.Point3{
		X: m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		Y: m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		Z: m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

func transpose(m [3][3]float64) [3][3]float64 {
	return [3][3]float64{
		{m[0][0], m[1][0], m[2][0]},
		{m[0][1], m[1][1], m[2][1]},
		{m[0][2], m[1][2], m[2][2]},
	}
}

// solve3 solves a 3x3 linear system by Gaussian elimination with partial
// pivoting. Returns false for singular systems.
func solve3(a [3][3]float64, b [3]float64) ([3]float64, bool) {
	const eps = 1e-9

	for col := 0; col < 3; col++ {
		pivot := col
		for row := col + 1; row < 3; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < eps {
			return [3]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < 3; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < 3; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	var x [3]float64
	for row := 2; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < 3; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, true
}
