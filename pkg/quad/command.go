// Package quad implements the quadruped control engine: the periodic
// sense-plan-actuate cycle, the operating-mode state machine, the
// stand-up sequence, and the per-mode controllers.
package quad

import (
	"fmt"

	"mjmech-go-migration/pkg/geom"
)

// Mode is the engine operating mode.
type Mode int

const (
	ModeStopped Mode = iota
	ModeFault
	ModeZeroVelocity
	ModeJoint
	ModeLeg
	ModeStandUp
)

// String returns the lower-case mode name.
func (m Mode) String() string {
	switch m {
	case ModeStopped:
		return "stopped"
	case ModeFault:
		return "fault"
	case ModeZeroVelocity:
		return "zero_velocity"
	case ModeJoint:
		return "joint"
	case ModeLeg:
		return "leg"
	case ModeStandUp:
		return "stand_up"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a mode name back to a Mode.
func ParseMode(s string) (Mode, bool) {
	for m := ModeStopped; m <= ModeStandUp; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return ModeStopped, false
}

// MarshalJSON encodes modes as their names.
func (m Mode) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON decodes a mode name.
func (m *Mode) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("mode must be a string, got %s", data)
	}
	parsed, ok := ParseMode(string(data[1 : len(data)-1]))
	if !ok {
		return fmt.Errorf("unknown mode %s", data)
	}
	*m = parsed
	return nil
}

// JointCommand is a command for a single servo. Optional fields are nil
// when unset. An unset field after the highest set one is omitted from
// the wire frame; one before it is encoded with its default.
type JointCommand struct {
	ID           int      `json:"id"`
	Power        bool     `json:"power"`
	ZeroVelocity bool     `json:"zero_velocity"`
	AngleDeg     float64  `json:"angle_deg"`
	VelocityDps  float64  `json:"velocity_dps"`
	TorqueNm     float64  `json:"torque_Nm"`
	KpScale      *float64 `json:"kp_scale,omitempty"`
	KdScale      *float64 `json:"kd_scale,omitempty"`
	MaxTorqueNm  *float64 `json:"max_torque_Nm,omitempty"`
	StopAngleDeg *float64 `json:"stop_angle_deg,omitempty"`
}

// LegCommand is a Cartesian command for one leg, in the body frame or
// the robot frame depending on which list it arrives in.
type LegCommand struct {
	Leg          int          `json:"leg"`
	Power        bool         `json:"power"`
	ZeroVelocity bool         `json:"zero_velocity"`
	PositionMM   geom.Point3  `json:"position_mm"`
	VelocityMMS  geom.Point3  `json:"velocity_mm_s"`
	ForceN       geom.Point3  `json:"force_N"`
	KpScale      *geom.Point3 `json:"kp_scale,omitempty"`
	KdScale      *geom.Point3 `json:"kd_scale,omitempty"`
}

// Command is the operator intent. Only the fields matching Mode are
// consulted.
type Command struct {
	Mode Mode `json:"mode"`

	Joints []JointCommand `json:"joints,omitempty"`
	LegsB  []LegCommand   `json:"legs_B,omitempty"`
	LegsR  []LegCommand   `json:"legs_R,omitempty"`

	StandUpPoseMMSR geom.Transform `json:"stand_up_pose_mm_SR"`
}
