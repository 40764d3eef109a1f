package quad

import (
	"fmt"
	"time"

	"mjmech-go-migration/pkg/geom"
)

// JointState is the decoded telemetry for one servo, sign-corrected.
type JointState struct {
	ID           int     `json:"id"`
	Mode         int     `json:"mode"`
	AngleDeg     float64 `json:"angle_deg"`
	VelocityDps  float64 `json:"velocity_dps"`
	TorqueNm     float64 `json:"torque_Nm"`
	Voltage      float64 `json:"voltage"`
	TemperatureC float64 `json:"temperature_C"`
	Fault        int     `json:"fault"`
}

// Link is the kinematic view of one joint.
type Link struct {
	ID          int     `json:"id"`
	AngleDeg    float64 `json:"angle_deg"`
	VelocityDps float64 `json:"velocity_dps"`
	TorqueNm    float64 `json:"torque_Nm"`
}

// LegState is one leg's effector state in the body frame, plus its
// three links in shoulder-femur-tibia order.
type LegState struct {
	Leg         int         `json:"leg"`
	PositionMM  geom.Point3 `json:"position_mm"`
	VelocityMMS geom.Point3 `json:"velocity_mm_s"`
	ForceN      geom.Point3 `json:"force_N"`
	Links       []Link      `json:"links"`
}

// StandUpMode is the stand-up submachine state.
type StandUpMode int

const (
	StandUpPrepositioning StandUpMode = iota
	StandUpStanding
	StandUpDone
)

// String returns the lower-case submachine state name.
func (m StandUpMode) String() string {
	switch m {
	case StandUpPrepositioning:
		return "prepositioning"
	case StandUpStanding:
		return "standing"
	case StandUpDone:
		return "done"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes submachine states as their names.
func (m StandUpMode) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON decodes a submachine state name.
func (m *StandUpMode) UnmarshalJSON(data []byte) error {
	for s := StandUpPrepositioning; s <= StandUpDone; s++ {
		if `"`+s.String()+`"` == string(data) {
			*m = s
			return nil
		}
	}
	return fmt.Errorf("unknown stand-up state %s", data)
}

// StandUpState is the per-mode substate for stand-up.
type StandUpState struct {
	Mode StandUpMode `json:"mode"`
}

// RobotFrames carries the dynamic frame relationships.
type RobotFrames struct {
	PoseMMRB geom.Transform `json:"pose_mm_RB"`
	PoseMMSR geom.Transform `json:"pose_mm_SR"`
}

// RobotState is the snapshot assembled each cycle.
type RobotState struct {
	Joints []JointState `json:"joints"`
	LegsB  []LegState   `json:"legs_B"`

	Robot   RobotFrames  `json:"robot"`
	StandUp StandUpState `json:"stand_up"`
}

// Status is the engine's externally visible state, republished on
// qc_status after every completed cycle.
type Status struct {
	Mode      Mode      `json:"mode"`
	ModeStart time.Time `json:"mode_start"`
	Fault     string    `json:"fault"`
	Timestamp time.Time `json:"timestamp"`

	State RobotState `json:"state"`

	TimeStatusS  float64 `json:"time_status_s"`
	TimeControlS float64 `json:"time_control_s"`
	TimeCommandS float64 `json:"time_command_s"`
	TimeCycleS   float64 `json:"time_cycle_s"`
}

// clone deep-copies a Status so subscribers outside the reactor can
// hold it.
func (s *Status) clone() Status {
	out := *s
	out.State.Joints = append([]JointState(nil), s.State.Joints...)
	out.State.LegsB = make([]LegState, len(s.State.LegsB))
	for i, leg := range s.State.LegsB {
		out.State.LegsB[i] = leg
		out.State.LegsB[i].Links = append([]Link(nil), leg.Links...)
	}
	return out
}

// CommandLog is published on qc_command at ingress. The engine owns the
// copy; subscribers must copy before suspending.
type CommandLog struct {
	Timestamp time.Time `json:"timestamp"`
	Command   Command   `json:"command"`
}

// ControlLog is published on qc_control after the controller runs.
type ControlLog struct {
	Timestamp time.Time      `json:"timestamp"`
	Joints    []JointCommand `json:"joints"`
	LegsB     []LegCommand   `json:"legs_B"`
	LegsR     []LegCommand   `json:"legs_R"`
}
