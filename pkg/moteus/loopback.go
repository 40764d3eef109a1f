package moteus

import (
	"math"
	"sync"
	"time"
)

// SimServo is one simulated servo: a register bank with just enough
// physics for bring-up. Position integrates commanded velocity and
// clamps at the commanded stop angle.
type SimServo struct {
	ID int

	Mode        Mode
	PositionDeg float64
	VelocityDps float64
	TorqueNm    float64
	Voltage     float64
	Temperature float64
	Fault       int

	// Commanded values from the last position-mode write.
	cmdVelocityDps float64
	cmdStopDeg     float64
	hasStop        bool
}

// NewSimServo creates a servo with nominal telemetry.
func NewSimServo(id int) *SimServo {
	return &SimServo{
		ID:          id,
		Voltage:     24.0,
		Temperature: 30.0,
	}
}

func (s *SimServo) ReadRegister(reg Register, res Resolution) Value {
	switch reg {
	case RegMode:
		return WriteInt(int(s.Mode), res)
	case RegPosition:
		return WritePosition(s.PositionDeg, res)
	case RegVelocity:
		return WriteVelocity(s.VelocityDps, res)
	case RegTorque:
		return WriteTorque(s.TorqueNm, res)
	case RegVoltage:
		return WriteVoltage(s.Voltage, res)
	case RegTemperature:
		return WriteTemperature(s.Temperature, res)
	case RegFault:
		return WriteInt(s.Fault, res)
	default:
		return WriteInt(0, res)
	}
}

func (s *SimServo) ApplyWrite(op WriteOp) {
	for i, v := range op.Values {
		reg := op.Start + Register(i)
		switch reg {
		case RegMode:
			s.Mode = Mode(ReadInt(v))
			if s.Mode != ModePosition {
				s.cmdVelocityDps = 0
				s.hasStop = false
			}
			if s.Mode == ModeStopped {
				s.VelocityDps = 0
				s.TorqueNm = 0
			}
		case RegCommandPosition:
			if pos := ReadPosition(v); !math.IsNaN(pos) {
				s.PositionDeg = pos
			}
		case RegCommandVelocity:
			s.cmdVelocityDps = ReadVelocity(v)
		case RegCommandStopAngle:
			if stop := ReadPosition(v); !math.IsNaN(stop) {
				s.cmdStopDeg = stop
				s.hasStop = true
			} else {
				s.hasStop = false
			}
		}
	}
}

// Step advances the simulation by dt.
func (s *SimServo) Step(dt time.Duration) {
	if s.Mode != ModePosition {
		s.VelocityDps = 0
		return
	}

	v := s.cmdVelocityDps
	if s.hasStop {
		// Slew toward the stop angle and hold there.
		delta := s.cmdStopDeg - s.PositionDeg
		step := math.Abs(v) * dt.Seconds()
		if math.Abs(delta) <= step {
			s.PositionDeg = s.cmdStopDeg
			s.VelocityDps = 0
			return
		}
		if delta < 0 {
			step = -step
		}
		s.PositionDeg += step
		s.VelocityDps = math.Copysign(math.Abs(v), step)
		return
	}

	s.PositionDeg += v * dt.Seconds()
	s.VelocityDps = v
}

// LoopbackClient is an in-process Client backed by simulated servos.
// It advertises power telemetry so the bootstrap capability path is
// exercised without hardware.
type LoopbackClient struct {
	mu     sync.Mutex
	servos map[int]*SimServo
	closed bool

	// StepOnTransaction advances every servo by this much per status
	// read, giving tools a moving simulation without a clock goroutine.
	StepOnTransaction time.Duration
}

// NewLoopbackClient creates a simulated bus with the given servo ids.
func NewLoopbackClient(ids []int) *LoopbackClient {
	servos := make(map[int]*SimServo, len(ids))
	for _, id := range ids {
		servos[id] = NewSimServo(id)
	}
	return &LoopbackClient{servos: servos}
}

// Servo returns the simulated servo with the given id for test setup.
func (c *LoopbackClient) Servo(id int) *SimServo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.servos[id]
}

// AsyncRegister executes the transaction against the simulated bank.
func (c *LoopbackClient) AsyncRegister(request *Request, reply *Reply, done func(error)) {
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		reply.Replies = reply.Replies[:0]
		stepped := false

		for i := range request.Requests {
			dev := &request.Requests[i]
			servo, ok := c.servos[dev.ID]
			if !ok {
				continue
			}

			for _, w := range dev.Request.Writes {
				servo.ApplyWrite(w)
			}

			if len(dev.Request.Reads) == 0 {
				continue
			}
			if c.StepOnTransaction > 0 && !stepped {
				for _, s := range c.servos {
					s.Step(c.StepOnTransaction)
				}
				stepped = true
			}

			values := make(map[Register]Value)
			for _, rd := range dev.Request.Reads {
				for i := 0; i < rd.Count; i++ {
					reg := rd.Start + Register(i)
					values[reg] = servo.ReadRegister(reg, rd.Resolution)
				}
			}
			reply.Replies = append(reply.Replies, DeviceReply{
				ID:     dev.ID,
				Values: values,
			})
		}

		done(nil)
	}()
}

// Capabilities reports simulated power telemetry.
func (c *LoopbackClient) Capabilities() Capability {
	return CapPowerTelemetry
}

// PowerState reports a synthesized power rail.
func (c *LoopbackClient) PowerState() PowerState {
	return PowerState{VoltageV: 24.0, CurrentA: 1.5}
}

// Close marks the client closed.
func (c *LoopbackClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
