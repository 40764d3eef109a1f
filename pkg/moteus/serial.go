package moteus

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.bug.st/serial"

	"mjmech-go-migration/pkg/errors"
	"mjmech-go-migration/pkg/log"
)

// errReplyTimeout marks a servo that did not answer within the reply
// window. It is not a transport failure; the caller counts replies.
var errReplyTimeout = fmt.Errorf("moteus: reply timeout")

// timeoutReader adapts the two timeout conventions under us: serial
// ports return (0, nil) on expiry, net.Conn returns a timeout error.
type timeoutReader struct {
	r io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n == 0 && err == nil {
		return 0, errReplyTimeout
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return n, errReplyTimeout
	}
	return n, err
}

// SerialConfig configures the serial bus client.
type SerialConfig struct {
	// Device is the serial port path, e.g. /dev/ttyACM0.
	Device string

	// BaudRate defaults to 3000000; the servo bus runs fast.
	BaudRate int

	// ReplyTimeout bounds each reply wait. Defaults to 20ms.
	ReplyTimeout time.Duration
}

// StreamClient drives the servo bus over a byte stream: a serial port
// on the robot, or a TCP connection to mock-servo. One transaction runs
// at a time; the engine's scheduler already guarantees that, and a
// mutex backstops misuse.
type StreamClient struct {
	stream io.ReadWriteCloser
	reader timeoutReader

	// beforeRead arms the per-reply deadline for transports that use
	// deadlines instead of read timeouts.
	beforeRead func()

	device string
	mu     sync.Mutex
	logger *log.Logger
	closed bool
}

// NewSerialClient opens the serial port and returns a bus client.
func NewSerialClient(cfg SerialConfig) (*StreamClient, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = 3000000
	}
	replyTimeout := cfg.ReplyTimeout
	if replyTimeout == 0 {
		replyTimeout = 20 * time.Millisecond
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, errors.BusOpenError(cfg.Device, err)
	}

	if err := port.SetReadTimeout(replyTimeout); err != nil {
		port.Close()
		return nil, errors.BusOpenError(cfg.Device, err)
	}

	return newStreamClient(port, cfg.Device, nil), nil
}

// NewTCPClient connects to a TCP servo bus (mock-servo).
func NewTCPClient(addr string, replyTimeout time.Duration) (*StreamClient, error) {
	if replyTimeout == 0 {
		replyTimeout = 100 * time.Millisecond
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.BusOpenError(addr, err)
	}

	c := newStreamClient(conn, addr, func() {
		conn.SetReadDeadline(time.Now().Add(replyTimeout))
	})
	return c, nil
}

func newStreamClient(stream io.ReadWriteCloser, device string, beforeRead func()) *StreamClient {
	return &StreamClient{
		stream:     stream,
		reader:     timeoutReader{r: stream},
		beforeRead: beforeRead,
		device:     device,
		logger:     log.GetLogger("bus"),
	}
}

// AsyncRegister issues one transaction. done is invoked from a client
// goroutine; callers hop back onto their own executor.
func (c *StreamClient) AsyncRegister(request *Request, reply *Reply, done func(error)) {
	go func() {
		done(c.transact(request, reply))
	}()
}

func (c *StreamClient) transact(request *Request, reply *Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.BusIOError("transaction", fmt.Errorf("client closed"))
	}

	reply.Replies = reply.Replies[:0]

	for i := range request.Requests {
		dev := &request.Requests[i]
		if dev.Request.Empty() {
			continue
		}

		frame := &Frame{
			Source:  HostID,
			Dest:    uint8(dev.ID),
			Payload: EncodePayload(&dev.Request),
		}
		if err := WriteFrame(c.stream, frame); err != nil {
			return errors.BusIOError("write", err)
		}

		// Writes with no reads expect no reply.
		if len(dev.Request.Reads) == 0 {
			continue
		}

		if c.beforeRead != nil {
			c.beforeRead()
		}
		replyFrame, err := ReadFrame(c.reader)
		if err != nil {
			if err == errReplyTimeout {
				c.logger.Debug("no reply from servo %d", dev.ID)
				continue
			}
			return errors.BusIOError("read", err)
		}
		if int(replyFrame.Source) != dev.ID {
			c.logger.Warn("reply from servo %d while polling %d",
				replyFrame.Source, dev.ID)
			continue
		}

		values, err := DecodeReplyPayload(replyFrame.Payload)
		if err != nil {
			return err
		}
		reply.Replies = append(reply.Replies, DeviceReply{
			ID:     dev.ID,
			Values: values,
		})
	}

	return nil
}

// Capabilities reports no optional features for the stream transports.
func (c *StreamClient) Capabilities() Capability {
	return 0
}

// Close releases the underlying stream.
func (c *StreamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.stream.Close()
}
