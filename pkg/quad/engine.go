package quad

import (
	"fmt"
	"math"
	"sync"
	"time"

	"mjmech-go-migration/pkg/config"
	"mjmech-go-migration/pkg/geom"
	"mjmech-go-migration/pkg/ik"
	"mjmech-go-migration/pkg/log"
	"mjmech-go-migration/pkg/metrics"
	"mjmech-go-migration/pkg/moteus"
	"mjmech-go-migration/pkg/reactor"
	"mjmech-go-migration/pkg/telemetry"
)

// Parameters are the engine's runtime knobs.
type Parameters struct {
	// PeriodS is the control cycle period in seconds. Default 0.01.
	PeriodS float64
}

// Leg binds one configured leg to its kinematics solver.
type Leg struct {
	leg      int
	config   config.Leg
	poseMMBG geom.Transform
	ik       *ik.MammalIK
}

// Engine runs the sense-plan-actuate loop. All mutable state is owned
// by the loop's dispatch goroutine. SetClient, Start, Stop, Command, and
// RequestFault may be called from other goroutines and post onto the
// loop; LatestStatus reads a mutex-guarded copy of the latest status.
type Engine struct {
	loop   *reactor.Loop
	config *config.Config
	params Parameters
	logger *log.Logger

	legs []*Leg

	client moteus.Client
	met    *metrics.CycleMetrics

	// onFatal is invoked for transport contract violations. The default
	// panics; the bootstrap installs an exit handler.
	onFatal func(error)

	// onCycle runs after every completed cycle (watchdog heartbeat).
	onCycle func()

	status         Status
	currentCommand *Command
	controlLog     ControlLog

	statusRequest  moteus.Request
	statusReply    moteus.Reply
	commandRequest moteus.Request
	commandReply   moteus.Reply
	outstanding    bool
	stopped        bool

	timestamps struct {
		cycleStart  time.Time
		statusDone  time.Time
		controlDone time.Time
		commandDone time.Time
	}

	statusSignal  *telemetry.Signal
	commandSignal *telemetry.Signal
	controlSignal *telemetry.Signal

	latestMu sync.Mutex
	latest   Status
}

// New creates an engine for the given configuration. Telemetry channels
// qc_status, qc_command, and qc_control are registered on registry.
func New(l *reactor.Loop, cfg *config.Config, params Parameters,
	registry *telemetry.Registry) *Engine {

	if params.PeriodS <= 0 {
		params.PeriodS = 0.01
	}

	e := &Engine{
		loop:   l,
		config: cfg,
		params: params,
		logger: log.GetLogger("engine"),

		statusSignal:  registry.Register("qc_status"),
		commandSignal: registry.Register("qc_command"),
		controlSignal: registry.Register("qc_control"),
	}
	e.onFatal = func(err error) {
		panic(fmt.Sprintf("quad: transport failure: %v", err))
	}
	e.status.State.Robot.PoseMMRB = geom.IdentityTransform()
	e.status.State.Robot.PoseMMSR = geom.IdentityTransform()

	for _, legCfg := range cfg.Legs {
		e.legs = append(e.legs, &Leg{
			leg:      legCfg.Leg,
			config:   legCfg,
			poseMMBG: legCfg.PoseMMBG,
			ik:       ik.New(legCfg.IK),
		})
	}

	e.populateStatusRequest()
	return e
}

// SetMetrics attaches cycle instrumentation.
func (e *Engine) SetMetrics(m *metrics.CycleMetrics) {
	e.met = m
}

// SetOnFatal replaces the transport-failure handler.
func (e *Engine) SetOnFatal(fn func(error)) {
	e.onFatal = fn
}

// SetOnCycle installs a hook that runs after every completed cycle.
func (e *Engine) SetOnCycle(fn func()) {
	e.onCycle = fn
}

// SetClient attaches the actuator bus. Until a client is attached,
// timer ticks are dropped silently.
func (e *Engine) SetClient(c moteus.Client) {
	e.loop.Post(func() { e.client = c })
}

// Start arms the cycle.
func (e *Engine) Start() {
	now := time.Now()
	e.loop.Post(func() {
		e.status.ModeStart = now
		e.loop.SetCycle(e.params.PeriodS, e.cycleTick)
	})
	e.logger.Info("engine started, period %.1fms", e.params.PeriodS*1000)
}

// Stop disarms the cycle. An in-flight bus transaction completes on
// its own; its callback finds the engine stopped and does nothing.
func (e *Engine) Stop() {
	e.loop.Post(func() {
		e.stopped = true
		e.loop.StopCycle()
	})
}

// Command captures the operator intent for the next cycle. Safe to call
// from any goroutine; later commands overwrite earlier unobserved ones.
func (e *Engine) Command(cmd Command) {
	captured := cloneCommand(cmd)
	e.loop.Post(func() {
		e.currentCommand = &captured
		e.commandSignal.Emit(&CommandLog{
			Timestamp: time.Now(),
			Command:   captured,
		})
	})
}

// LatestStatus returns a copy of the most recently published status.
func (e *Engine) LatestStatus() Status {
	e.latestMu.Lock()
	defer e.latestMu.Unlock()
	return e.latest.clone()
}

// RequestFault forces the engine into fault mode from outside the
// cycle (watchdog). The fault controller takes over on the next cycle.
func (e *Engine) RequestFault(message string) {
	e.loop.Post(func() {
		if e.status.Mode == ModeFault {
			return
		}
		e.logger.Error("external fault: %s", message)
		e.status.Mode = ModeFault
		e.status.Fault = message
		e.status.ModeStart = time.Now()
		if e.met != nil {
			e.met.FaultsEntered.Inc()
		}
		e.publishLatest()
	})
}

func cloneCommand(cmd Command) Command {
	out := cmd
	out.Joints = append([]JointCommand(nil), cmd.Joints...)
	out.LegsB = append([]LegCommand(nil), cmd.LegsB...)
	out.LegsR = append([]LegCommand(nil), cmd.LegsR...)
	return out
}

func (e *Engine) populateStatusRequest() {
	e.statusRequest = moteus.Request{}
	for _, joint := range e.config.Joints {
		var r moteus.RegisterRequest
		// Mode, position, velocity, torque; then voltage, temperature,
		// fault.
		r.ReadMultiple(moteus.RegMode, 4, moteus.Int16)
		r.ReadMultiple(moteus.RegVoltage, 3, moteus.Int16)
		e.statusRequest.Requests = append(e.statusRequest.Requests,
			moteus.DeviceRequest{ID: joint.ID, Request: r})
	}
}

func (e *Engine) sign(id int) float64 {
	if j, ok := e.config.JointByID(id); ok {
		return j.Sign
	}
	panic(fmt.Sprintf("quad: unknown joint id %d", id))
}

func (e *Engine) getLeg(id int) *Leg {
	for _, leg := range e.legs {
		if leg.leg == id {
			return leg
		}
	}
	panic(fmt.Sprintf("quad: unknown leg id %d", id))
}

// cycleTick drives the cycle. Ticks that arrive while a cycle is in
// flight are dropped, never queued.
func (e *Engine) cycleTick(eventtime float64) {
	if e.stopped || e.client == nil {
		return
	}
	if e.outstanding {
		if e.met != nil {
			e.met.TicksDropped.Inc()
		}
		return
	}

	e.timestamps.cycleStart = time.Now()
	e.outstanding = true

	e.statusReply = moteus.Reply{}
	e.client.AsyncRegister(&e.statusRequest, &e.statusReply, func(err error) {
		e.loop.Post(func() { e.handleStatus(err) })
	})
}

func (e *Engine) handleStatus(err error) {
	if e.stopped {
		e.outstanding = false
		return
	}
	if err != nil {
		e.onFatal(err)
		return
	}

	e.timestamps.statusDone = time.Now()

	// Without all twelve servos, skip this cycle and try again fresh.
	if len(e.statusReply.Replies) != config.NumJoints {
		e.logger.WarnFields("missing replies", log.Fields{
			"sz": len(e.statusReply.Replies),
		})
		if e.met != nil {
			e.met.ShortTelemetry.Inc()
		}
		e.outstanding = false
		return
	}

	e.updateStatus()

	e.controlLog = ControlLog{}
	e.runControl()

	e.timestamps.controlDone = time.Now()

	if len(e.commandRequest.Requests) > 0 {
		e.commandReply = moteus.Reply{}
		e.client.AsyncRegister(&e.commandRequest, &e.commandReply, func(err error) {
			e.loop.Post(func() { e.handleCommand(err) })
		})
	} else {
		e.handleCommand(nil)
	}
}

func (e *Engine) handleCommand(err error) {
	if e.stopped {
		e.outstanding = false
		return
	}
	if err != nil {
		e.onFatal(err)
		return
	}

	e.outstanding = false

	now := time.Now()
	e.timestamps.commandDone = now

	e.status.Timestamp = now
	e.status.TimeStatusS = e.timestamps.statusDone.Sub(e.timestamps.cycleStart).Seconds()
	e.status.TimeControlS = e.timestamps.controlDone.Sub(e.timestamps.statusDone).Seconds()
	e.status.TimeCommandS = e.timestamps.commandDone.Sub(e.timestamps.controlDone).Seconds()
	e.status.TimeCycleS = e.timestamps.commandDone.Sub(e.timestamps.cycleStart).Seconds()

	e.publishLatest()
	e.statusSignal.Emit(&e.status)

	if e.met != nil {
		e.met.CyclesCompleted.Inc()
		e.met.CurrentMode.Set(float64(e.status.Mode))
		e.met.CycleSeconds.Observe(e.status.TimeCycleS)
		e.met.StatusSeconds.Observe(e.status.TimeStatusS)
		e.met.ControlSeconds.Observe(e.status.TimeControlS)
		e.met.CommandSeconds.Observe(e.status.TimeCommandS)
	}
	if e.onCycle != nil {
		e.onCycle()
	}
}

func (e *Engine) publishLatest() {
	e.latestMu.Lock()
	e.latest = e.status.clone()
	e.latestMu.Unlock()
}

// updateStatus rebuilds the robot snapshot from the decoded telemetry.
func (e *Engine) updateStatus() {
	var ikJoints []ik.Joint
	var links []Link

	e.status.State.Joints = e.status.State.Joints[:0]

	for _, reply := range e.statusReply.Replies {
		var outJoint JointState
		var outLink Link
		var ikJoint ik.Joint

		outJoint.ID = reply.ID
		outLink.ID = reply.ID
		ikJoint.ID = reply.ID

		sign := e.sign(reply.ID)

		for reg, value := range reply.Values {
			switch reg {
			case moteus.RegMode:
				outJoint.Mode = moteus.ReadInt(value)
			case moteus.RegPosition:
				outJoint.AngleDeg = sign * moteus.ReadPosition(value)
				outLink.AngleDeg = outJoint.AngleDeg
				ikJoint.AngleDeg = outJoint.AngleDeg
			case moteus.RegVelocity:
				outJoint.VelocityDps = sign * moteus.ReadVelocity(value)
				outLink.VelocityDps = outJoint.VelocityDps
				ikJoint.VelocityDps = outJoint.VelocityDps
			case moteus.RegTorque:
				outJoint.TorqueNm = sign * moteus.ReadTorque(value)
				outLink.TorqueNm = outJoint.TorqueNm
				ikJoint.TorqueNm = outJoint.TorqueNm
			case moteus.RegVoltage:
				outJoint.Voltage = moteus.ReadVoltage(value)
			case moteus.RegTemperature:
				outJoint.TemperatureC = moteus.ReadTemperature(value)
			case moteus.RegFault:
				outJoint.Fault = moteus.ReadInt(value)
			}
		}

		e.status.State.Joints = append(e.status.State.Joints, outJoint)
		ikJoints = append(ikJoints, ikJoint)
		links = append(links, outLink)
	}

	getLink := func(id int) Link {
		for _, link := range links {
			if link.ID == id {
				return link
			}
		}
		panic(fmt.Sprintf("quad: no link for joint id %d", id))
	}

	e.status.State.LegsB = e.status.State.LegsB[:0]

	for _, leg := range e.legs {
		effector := leg.ik.Forward(ikJoints)

		outLeg := LegState{
			Leg:         leg.leg,
			PositionMM:  leg.poseMMBG.Apply(effector.PoseMMG),
			VelocityMMS: leg.poseMMBG.RotateOnly(effector.VelocityMMSG),
			ForceN:      leg.poseMMBG.RotateOnly(effector.ForceNG),
		}
		outLeg.Links = append(outLeg.Links,
			getLink(leg.config.IK.Shoulder.ID),
			getLink(leg.config.IK.Femur.ID),
			getLink(leg.config.IK.Tibia.ID))

		e.status.State.LegsB = append(e.status.State.LegsB, outLeg)
	}
}

func (e *Engine) runControl() {
	if e.currentCommand != nil && e.currentCommand.Mode != e.status.Mode {
		e.maybeChangeMode()
	}

	switch e.status.Mode {
	case ModeStopped:
		e.doControlStopped()
	case ModeFault:
		e.doControlFault()
	case ModeZeroVelocity:
		e.doControlZeroVelocity()
	case ModeJoint:
		e.doControlJoint()
	case ModeLeg:
		e.doControlLeg()
	case ModeStandUp:
		e.doControlStandUp()
	default:
		panic(fmt.Sprintf("quad: unknown mode %d", e.status.Mode))
	}
}

// maybeChangeMode applies the operator's requested transition if the
// table permits it; denied requests are dropped silently.
func (e *Engine) maybeChangeMode() {
	oldMode := e.status.Mode

	switch e.currentCommand.Mode {
	case ModeFault:
		// Fault is entered by the engine only; an operator request for
		// it is dropped.
		return
	case ModeStopped:
		// Always permitted, wise or not.
		e.status.Mode = ModeStopped
	case ModeZeroVelocity, ModeJoint, ModeLeg:
		if e.status.Mode == ModeFault {
			return
		}
		e.status.Mode = e.currentCommand.Mode
	case ModeStandUp:
		if e.status.Mode != ModeStopped {
			return
		}
		e.status.Mode = ModeStandUp
		// Fresh entry starts the sequence over.
		e.status.State.StandUp = StandUpState{}
	default:
		panic(fmt.Sprintf("quad: unknown requested mode %d", e.currentCommand.Mode))
	}

	if e.status.Mode != oldMode {
		e.status.ModeStart = time.Now()
		if e.status.Mode != ModeFault {
			e.status.Fault = ""
		}
	}
}

func (e *Engine) fault(message string) {
	e.logger.Error("fault: %s", message)
	e.status.Mode = ModeFault
	e.status.Fault = message
	e.status.ModeStart = time.Now()
	if e.met != nil {
		e.met.FaultsEntered.Inc()
	}

	e.doControlFault()
}

func (e *Engine) doControlStopped() {
	var out []JointCommand
	for _, joint := range e.config.Joints {
		out = append(out, JointCommand{ID: joint.ID, Power: false})
	}
	e.controlJoints(out)
}

func (e *Engine) doControlFault() {
	// A faulted robot actively holds position.
	e.doControlZeroVelocity()
}

func (e *Engine) doControlZeroVelocity() {
	var out []JointCommand
	for _, joint := range e.config.Joints {
		out = append(out, JointCommand{
			ID:           joint.ID,
			Power:        true,
			ZeroVelocity: true,
		})
	}
	e.controlJoints(out)
}

func (e *Engine) doControlJoint() {
	if e.currentCommand == nil {
		e.doControlStopped()
		return
	}
	e.controlJoints(append([]JointCommand(nil), e.currentCommand.Joints...))
}

func (e *Engine) doControlLeg() {
	if e.currentCommand == nil {
		e.doControlStopped()
		return
	}
	if len(e.currentCommand.LegsR) > 0 {
		e.controlLegsR(append([]LegCommand(nil), e.currentCommand.LegsR...))
		return
	}
	e.controlLegsB(append([]LegCommand(nil), e.currentCommand.LegsB...))
}

func (e *Engine) doControlStandUp() {
	elapsed := time.Since(e.status.ModeStart).Seconds()
	if elapsed > e.config.StandUp.TimeoutS {
		e.fault("timeout")
		return
	}

	// See if we can advance to the next state.
	switch e.status.State.StandUp.Mode {
	case StandUpPrepositioning:
		if e.checkPrepositioning() {
			e.status.State.StandUp.Mode = StandUpStanding
		}
	case StandUpStanding:
		target := geom.Transform{}
		if e.currentCommand != nil {
			target = e.currentCommand.StandUpPoseMMSR
		}
		err := e.status.State.Robot.PoseMMSR.Translation.Sub(target.Translation)
		if err.Norm() < e.config.StandUp.ToleranceMM {
			e.status.State.StandUp.Mode = StandUpDone
		}
	case StandUpDone:
		// Never leaves on its own.
	}

	switch e.status.State.StandUp.Mode {
	case StandUpPrepositioning:
		e.doControlStandUpPrepositioning()
	case StandUpStanding, StandUpDone:
		e.doControlStandUpStanding()
	}
}

// checkPrepositioning reports whether every joint of every leg is
// within tolerance of the stand-up pose.
func (e *Engine) checkPrepositioning() bool {
	currentDeg := make(map[int]float64, len(e.status.State.Joints))
	for _, joint := range e.status.State.Joints {
		currentDeg[joint.ID] = joint.AngleDeg
	}

	tolerance := e.config.StandUp.ToleranceDeg
	pose := e.config.StandUp.Pose

	check := func(id int, expectedDeg float64) bool {
		current, ok := currentDeg[id]
		if !ok {
			panic(fmt.Sprintf("quad: no telemetry for joint id %d", id))
		}
		return math.Abs(current-expectedDeg) <= tolerance
	}

	for _, leg := range e.legs {
		if !check(leg.config.IK.Shoulder.ID, pose.ShoulderDeg) {
			return false
		}
		if !check(leg.config.IK.Femur.ID, pose.FemurDeg) {
			return false
		}
		if !check(leg.config.IK.Tibia.ID, pose.TibiaDeg) {
			return false
		}
	}
	return true
}

// doControlStandUpPrepositioning slews every joint toward the stand-up
// pose against a hard stop with limited torque. The command angle is
// left free; the stop angle is the target.
func (e *Engine) doControlStandUpPrepositioning() {
	standUp := e.config.StandUp
	maxTorque := standUp.MaxPrepositionTorqueNm

	var joints []JointCommand
	for _, leg := range e.legs {
		base := JointCommand{
			Power:       true,
			AngleDeg:    math.NaN(),
			VelocityDps: standUp.VelocityDps,
			MaxTorqueNm: &maxTorque,
		}

		addJoint := func(id int, angleDeg float64) {
			joint := base
			joint.ID = id
			stop := angleDeg
			joint.StopAngleDeg = &stop
			joints = append(joints, joint)
		}

		addJoint(leg.config.IK.Shoulder.ID, standUp.Pose.ShoulderDeg)
		addJoint(leg.config.IK.Femur.ID, standUp.Pose.FemurDeg)
		addJoint(leg.config.IK.Tibia.ID, standUp.Pose.TibiaDeg)
	}
	e.controlJoints(joints)
}

func (e *Engine) doControlStandUpStanding() {
	e.fault("not implemented")
}

func (e *Engine) controlLegsR(legsR []LegCommand) {
	e.controlLog.LegsR = legsR

	poseMMBR := e.status.State.Robot.PoseMMRB.Inverse()

	legsB := make([]LegCommand, 0, len(legsR))
	for _, legR := range legsR {
		legB := legR
		legB.PositionMM = poseMMBR.Apply(legR.PositionMM)
		legB.VelocityMMS = poseMMBR.RotateOnly(legR.VelocityMMS)
		legB.ForceN = poseMMBR.RotateOnly(legR.ForceN)
		legsB = append(legsB, legB)
	}

	e.controlLegsB(legsB)
}

func (e *Engine) controlLegsB(legsB []LegCommand) {
	e.controlLog.LegsB = legsB

	currentJoints := make([]ik.Joint, 0, len(e.status.State.Joints))
	for _, joint := range e.status.State.Joints {
		currentJoints = append(currentJoints, ik.Joint{
			ID:          joint.ID,
			AngleDeg:    joint.AngleDeg,
			VelocityDps: joint.VelocityDps,
			TorqueNm:    joint.TorqueNm,
		})
	}

	var outJoints []JointCommand

	for _, legB := range legsB {
		qleg := e.getLeg(legB.Leg)

		addJoints := func(base JointCommand) {
			base.ID = qleg.config.IK.Shoulder.ID
			outJoints = append(outJoints, base)
			base.ID = qleg.config.IK.Femur.ID
			outJoints = append(outJoints, base)
			base.ID = qleg.config.IK.Tibia.ID
			outJoints = append(outJoints, base)
		}

		if !legB.Power {
			addJoints(JointCommand{Power: false})
			continue
		}
		if legB.ZeroVelocity {
			addJoints(JointCommand{Power: true, ZeroVelocity: true})
			continue
		}

		poseMMGB := qleg.poseMMBG.Inverse()
		effector := ik.Effector{
			PoseMMG:      poseMMGB.Apply(legB.PositionMM),
			VelocityMMSG: poseMMGB.RotateOnly(legB.VelocityMMS),
			ForceNG:      poseMMGB.RotateOnly(legB.ForceN),
		}

		result, ok := qleg.ik.Inverse(effector, currentJoints)
		if !ok {
			// Unreachable this cycle: hold with zero velocity rather
			// than keep chasing the stale command.
			addJoints(JointCommand{Power: true, ZeroVelocity: true})
			continue
		}

		for _, jointAngle := range result {
			out := JointCommand{
				ID:          jointAngle.ID,
				Power:       true,
				AngleDeg:    jointAngle.AngleDeg,
				VelocityDps: jointAngle.VelocityDps,
				TorqueNm:    jointAngle.TorqueNm,
			}
			// TODO: propagate kp and kd from 3D into joints.
			if legB.KpScale != nil {
				kp := legB.KpScale.X
				out.KpScale = &kp
			}
			if legB.KdScale != nil {
				kd := legB.KdScale.X
				out.KdScale = &kd
			}
			outJoints = append(outJoints, out)
		}
	}

	e.controlJoints(outJoints)
}

func (e *Engine) controlJoints(joints []JointCommand) {
	e.controlLog.Joints = joints
	e.emitControl()
}

// emitControl publishes the control log and encodes the command frames.
func (e *Engine) emitControl() {
	e.controlLog.Timestamp = time.Now()
	e.controlSignal.Emit(&e.controlLog)

	e.commandRequest = moteus.Request{}

	for _, joint := range e.controlLog.Joints {
		var req moteus.RegisterRequest

		mode := moteus.ModePosition
		if !joint.Power {
			mode = moteus.ModeStopped
		} else if joint.ZeroVelocity {
			mode = moteus.ModePositionTimeout
		}

		req.WriteSingle(moteus.RegMode, moteus.WriteInt(int(mode), moteus.Int8))

		if mode == moteus.ModePosition {
			sign := e.sign(joint.ID)

			// The trailing block is truncated at the highest set
			// field; everything below it is encoded explicitly, with
			// defaults where unset.
			size := 0
			if joint.AngleDeg != 0.0 {
				size = 1
			}
			if joint.VelocityDps != 0.0 {
				size = 2
			}
			if joint.TorqueNm != 0.0 {
				size = 3
			}
			if joint.KpScale != nil {
				size = 4
			}
			if joint.KdScale != nil {
				size = 5
			}
			if joint.MaxTorqueNm != nil {
				size = 6
			}
			if joint.StopAngleDeg != nil {
				size = 7
			}

			values := make([]moteus.Value, 0, size)
			for i := 0; i < size; i++ {
				switch i {
				case 0:
					values = append(values,
						moteus.WritePosition(sign*joint.AngleDeg, moteus.Int16))
				case 1:
					values = append(values,
						moteus.WriteVelocity(sign*joint.VelocityDps, moteus.Int16))
				case 2:
					values = append(values,
						moteus.WriteTorque(sign*joint.TorqueNm, moteus.Int16))
				case 3:
					values = append(values,
						moteus.WritePwm(orDefault(joint.KpScale, 1.0), moteus.Int16))
				case 4:
					values = append(values,
						moteus.WritePwm(orDefault(joint.KdScale, 1.0), moteus.Int16))
				case 5:
					values = append(values,
						moteus.WriteTorque(orDefault(joint.MaxTorqueNm, math.Inf(1)), moteus.Int16))
				case 6:
					values = append(values,
						moteus.WritePosition(sign*orDefault(joint.StopAngleDeg, math.NaN()), moteus.Int16))
				}
			}

			if len(values) > 0 {
				req.WriteMultiple(moteus.RegCommandPosition, values)
			}
		}

		e.commandRequest.Requests = append(e.commandRequest.Requests,
			moteus.DeviceRequest{ID: joint.ID, Request: req})
	}
}

func orDefault(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}
