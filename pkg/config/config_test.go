package config

import (
	"fmt"
	"strings"
	"testing"

	"mjmech-go-migration/pkg/errors"
)

// validDocument builds a 4-leg/12-joint configuration in JSON.
func validDocument() string {
	var sb strings.Builder
	sb.WriteString(`{"joints": [`)
	for id := 1; id <= 12; id++ {
		if id > 1 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"id": %d, "sign": %s}`, id, signFor(id))
	}
	sb.WriteString(`], "legs": [`)
	for leg := 0; leg < 4; leg++ {
		if leg > 0 {
			sb.WriteString(",")
		}
		base := leg*3 + 1
		fmt.Fprintf(&sb, `{"leg": %d,
			"pose_mm_BG": {"translation": {"x": %d, "y": %d, "z": 0}},
			"ik": {"shoulder": {"id": %d}, "femur": {"id": %d}, "tibia": {"id": %d},
			       "shoulder_mm": 30, "femur_mm": 130, "tibia_mm": 135}}`,
			leg, 100*xSign(leg), 70*ySign(leg), base, base+1, base+2)
	}
	sb.WriteString(`], "stand_up": {}}`)
	return sb.String()
}

func signFor(id int) string {
	if id%2 == 0 {
		return "-1.0"
	}
	return "1.0"
}

func xSign(leg int) int {
	if leg < 2 {
		return 1
	}
	return -1
}

func ySign(leg int) int {
	if leg%2 == 0 {
		return 1
	}
	return -1
}

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validDocument()), "test.cfg")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(cfg.Joints) != NumJoints || len(cfg.Legs) != NumLegs {
		t.Fatalf("got %d joints / %d legs", len(cfg.Joints), len(cfg.Legs))
	}

	// Defaults
	if cfg.Joints[0].MinDeg != -360 || cfg.Joints[0].MaxDeg != 360 {
		t.Errorf("joint limits not defaulted: %+v", cfg.Joints[0])
	}
	s := cfg.StandUp
	if s.Pose.FemurDeg != 135 || s.Pose.TibiaDeg != -120 {
		t.Errorf("stand_up pose not defaulted: %+v", s.Pose)
	}
	if s.VelocityDps != 30 || s.MaxPrepositionTorqueNm != 3 || s.TimeoutS != 4 {
		t.Errorf("stand_up parameters not defaulted: %+v", s)
	}
	if s.ToleranceDeg != 1 || s.ToleranceMM != 10 || s.VelocityMMS != 100 {
		t.Errorf("stand_up tolerances not defaulted: %+v", s)
	}

	// The identity rotation survives an absent "rotation" field.
	r := cfg.Legs[0].PoseMMBG.Rotation
	if r.W != 1 || r.X != 0 || r.Y != 0 || r.Z != 0 {
		t.Errorf("rotation not defaulted to identity: %+v", r)
	}
}

func TestParseWrongCounts(t *testing.T) {
	doc := `{"joints": [{"id": 1}], "legs": [], "stand_up": {}}`
	_, err := Parse([]byte(doc), "test.cfg")
	if err == nil {
		t.Fatal("expected error for wrong counts")
	}
	if !errors.Is(err, errors.ErrConfigValidation) {
		t.Errorf("wrong error kind: %v", err)
	}
	if !strings.Contains(err.Error(), "1/0 != 4/12") &&
		!strings.Contains(err.Error(), "0/1 != 4/12") {
		t.Errorf("message does not name counts: %v", err)
	}
}

func TestParseDuplicateJointID(t *testing.T) {
	doc := strings.Replace(validDocument(), `{"id": 2, "sign": -1.0}`, `{"id": 1, "sign": -1.0}`, 1)
	if _, err := Parse([]byte(doc), "test.cfg"); err == nil {
		t.Fatal("expected error for duplicate joint id")
	}
}

func TestParseUnknownIKJoint(t *testing.T) {
	doc := strings.Replace(validDocument(), `"shoulder": {"id": 1}`, `"shoulder": {"id": 99}`, 1)
	_, err := Parse([]byte(doc), "test.cfg")
	if err == nil {
		t.Fatal("expected error for unknown ik joint id")
	}
	if !strings.Contains(err.Error(), "99") {
		t.Errorf("message does not name the id: %v", err)
	}
}

func TestParseBadSign(t *testing.T) {
	doc := strings.Replace(validDocument(), `"sign": -1.0`, `"sign": -2.0`, 1)
	if _, err := Parse([]byte(doc), "test.cfg"); err == nil {
		t.Fatal("expected error for invalid sign")
	}
}

func TestParseUnparsable(t *testing.T) {
	_, err := Parse([]byte("{not json"), "broken.cfg")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !errors.Is(err, errors.ErrConfigParse) {
		t.Errorf("wrong error kind: %v", err)
	}
	if !strings.Contains(err.Error(), "broken.cfg") {
		t.Errorf("message does not name the file: %v", err)
	}
}

func TestParseIgnoresUnknownFields(t *testing.T) {
	doc := strings.Replace(validDocument(), `"stand_up": {}`, `"stand_up": {}, "future_option": 7`, 1)
	if _, err := Parse([]byte(doc), "test.cfg"); err != nil {
		t.Errorf("unknown field rejected: %v", err)
	}
}

func TestJointByID(t *testing.T) {
	cfg, err := Parse([]byte(validDocument()), "test.cfg")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	j, ok := cfg.JointByID(4)
	if !ok || j.ID != 4 || j.Sign != -1.0 {
		t.Errorf("JointByID(4) = %+v, %v", j, ok)
	}
	if _, ok := cfg.JointByID(99); ok {
		t.Error("JointByID(99) should fail")
	}
}
