// Package config loads and validates the robot geometry configuration:
// twelve joints, four legs, and the stand-up trajectory parameters.
// The file is JSON; missing fields take documented defaults and unknown
// fields are ignored.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"mjmech-go-migration/pkg/errors"
	"mjmech-go-migration/pkg/geom"
	"mjmech-go-migration/pkg/ik"
)

// Joint describes a single servo: its bus id, mounting sign, and
// software position limits.
type Joint struct {
	ID     int     `json:"id"`
	Sign   float64 `json:"sign"`
	MinDeg float64 `json:"min_deg"`
	MaxDeg float64 `json:"max_deg"`
}

// Leg describes one leg: its id, the rigid transform from the leg
// geometry frame G to the body frame B, and the kinematics geometry.
type Leg struct {
	Leg      int            `json:"leg"`
	PoseMMBG geom.Transform `json:"pose_mm_BG"`
	IK       ik.Config      `json:"ik"`
}

// MammalJoint is a per-leg joint pose in degrees.
type MammalJoint struct {
	ShoulderDeg float64 `json:"shoulder_deg"`
	FemurDeg    float64 `json:"femur_deg"`
	TibiaDeg    float64 `json:"tibia_deg"`
}

// StandUp holds the stand-up trajectory parameters.
type StandUp struct {
	Pose                   MammalJoint `json:"pose"`
	VelocityDps            float64     `json:"velocity_dps"`
	MaxPrepositionTorqueNm float64     `json:"max_preposition_torque_Nm"`
	TimeoutS               float64     `json:"timeout_s"`
	ToleranceDeg           float64     `json:"tolerance_deg"`
	ToleranceMM            float64     `json:"tolerance_mm"`
	VelocityMMS            float64     `json:"velocity_mm_s"`
}

// Config is the robot geometry configuration, immutable after Load.
type Config struct {
	Joints  []Joint `json:"joints"`
	Legs    []Leg   `json:"legs"`
	StandUp StandUp `json:"stand_up"`
}

const (
	// NumLegs and NumJoints are fixed for this robot; anything else is
	// a fatal configuration error.
	NumLegs   = 4
	NumJoints = 12
)

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigParseError(path, err)
	}
	return Parse(data, path)
}

// Parse decodes a configuration document. path is used only for error
// context.
func Parse(data []byte, path string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.ConfigParseError(path, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Joints {
		j := &c.Joints[i]
		if j.Sign == 0 {
			j.Sign = 1.0
		}
		if j.MinDeg == 0 && j.MaxDeg == 0 {
			j.MinDeg = -360.0
			j.MaxDeg = 360.0
		}
	}

	for i := range c.Legs {
		leg := &c.Legs[i]
		leg.PoseMMBG.Rotation = leg.PoseMMBG.Rotation.Normalized()
		leg.IK.ApplyDefaults()
	}

	s := &c.StandUp
	if s.Pose.FemurDeg == 0 && s.Pose.TibiaDeg == 0 {
		s.Pose.FemurDeg = 135.0
		s.Pose.TibiaDeg = -120.0
	}
	if s.VelocityDps == 0 {
		s.VelocityDps = 30.0
	}
	if s.MaxPrepositionTorqueNm == 0 {
		s.MaxPrepositionTorqueNm = 3.0
	}
	if s.TimeoutS == 0 {
		s.TimeoutS = 4.0
	}
	if s.ToleranceDeg == 0 {
		s.ToleranceDeg = 1.0
	}
	if s.ToleranceMM == 0 {
		s.ToleranceMM = 10.0
	}
	if s.VelocityMMS == 0 {
		s.VelocityMMS = 100.0
	}
}

func (c *Config) validate() error {
	if len(c.Legs) != NumLegs || len(c.Joints) != NumJoints {
		return errors.ConfigValidationError("", fmt.Sprintf(
			"incorrect number of legs/joints configured: %d/%d != %d/%d",
			len(c.Legs), len(c.Joints), NumLegs, NumJoints))
	}

	jointIDs := make(map[int]bool, len(c.Joints))
	for _, j := range c.Joints {
		if jointIDs[j.ID] {
			return errors.ConfigOptionError("joints", "id",
				fmt.Sprintf("duplicate joint id %d", j.ID))
		}
		jointIDs[j.ID] = true

		if j.Sign != 1.0 && j.Sign != -1.0 {
			return errors.ConfigOptionError("joints", "sign",
				fmt.Sprintf("joint %d: sign must be +1 or -1, got %v", j.ID, j.Sign))
		}
		if j.MinDeg >= j.MaxDeg {
			return errors.ConfigOptionError("joints", "min_deg",
				fmt.Sprintf("joint %d: min_deg %v >= max_deg %v", j.ID, j.MinDeg, j.MaxDeg))
		}
	}

	legIDs := make(map[int]bool, len(c.Legs))
	for _, leg := range c.Legs {
		if legIDs[leg.Leg] {
			return errors.ConfigOptionError("legs", "leg",
				fmt.Sprintf("duplicate leg id %d", leg.Leg))
		}
		legIDs[leg.Leg] = true

		for _, id := range []int{leg.IK.Shoulder.ID, leg.IK.Femur.ID, leg.IK.Tibia.ID} {
			if !jointIDs[id] {
				return errors.ConfigOptionError("legs", "ik",
					fmt.Sprintf("leg %d references unknown joint id %d", leg.Leg, id))
			}
		}

		if err := leg.IK.Validate(); err != nil {
			return errors.ConfigOptionError("legs", "ik",
				fmt.Sprintf("leg %d: %v", leg.Leg, err))
		}
	}

	if c.StandUp.TimeoutS <= 0 {
		return errors.ConfigOptionError("stand_up", "timeout_s", "must be positive")
	}

	return nil
}

// JointByID returns the joint entry with the given bus id.
func (c *Config) JointByID(id int) (Joint, bool) {
	for _, j := range c.Joints {
		if j.ID == id {
			return j, true
		}
	}
	return Joint{}, false
}
