package moteus

import (
	"net"
	"testing"
	"time"
)

// fakeServo services frames on one end of a pipe from a SimServo bank.
func fakeServo(t *testing.T, conn net.Conn, servos map[int]*SimServo) {
	t.Helper()
	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			return
		}
		servo, ok := servos[int(frame.Dest)]
		if !ok {
			continue // absent servo: no reply
		}
		req, err := DecodeRequestPayload(frame.Payload)
		if err != nil {
			t.Errorf("mock decode: %v", err)
			return
		}
		for _, w := range req.Writes {
			servo.ApplyWrite(w)
		}
		if len(req.Reads) == 0 {
			continue
		}
		reply := &Frame{
			Source:  frame.Dest,
			Dest:    frame.Source,
			Payload: EncodeReplyPayload(req.Reads, servo.ReadRegister),
		}
		if err := WriteFrame(conn, reply); err != nil {
			return
		}
	}
}

func pipeClient(t *testing.T, servos map[int]*SimServo) *StreamClient {
	t.Helper()
	host, device := net.Pipe()
	go fakeServo(t, device, servos)
	t.Cleanup(func() { device.Close() })

	return newStreamClient(host, "pipe", func() {
		host.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	})
}

func TestStreamClientStatusRead(t *testing.T) {
	servos := map[int]*SimServo{
		1: NewSimServo(1),
		2: NewSimServo(2),
	}
	servos[2].PositionDeg = 15

	c := pipeClient(t, servos)
	defer c.Close()

	req := &Request{}
	for _, id := range []int{1, 2} {
		var r RegisterRequest
		r.ReadMultiple(RegMode, 4, Int16)
		r.ReadMultiple(RegVoltage, 3, Int16)
		req.Requests = append(req.Requests, DeviceRequest{ID: id, Request: r})
	}

	var reply Reply
	done := make(chan error, 1)
	c.AsyncRegister(req, &reply, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("transaction: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transaction did not complete")
	}

	if len(reply.Replies) != 2 {
		t.Fatalf("got %d replies, want 2", len(reply.Replies))
	}
	pos := ReadPosition(reply.Replies[1].Values[RegPosition])
	if pos < 14.99 || pos > 15.01 {
		t.Errorf("servo 2 position = %v", pos)
	}
}

func TestStreamClientMissingServo(t *testing.T) {
	servos := map[int]*SimServo{1: NewSimServo(1)}

	c := pipeClient(t, servos)
	defer c.Close()

	req := &Request{}
	for _, id := range []int{1, 9} {
		var r RegisterRequest
		r.ReadMultiple(RegMode, 4, Int16)
		req.Requests = append(req.Requests, DeviceRequest{ID: id, Request: r})
	}

	var reply Reply
	done := make(chan error, 1)
	c.AsyncRegister(req, &reply, func(err error) { done <- err })

	select {
	case err := <-done:
		// A silent servo is a short reply, not a transport error.
		if err != nil {
			t.Fatalf("transaction: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transaction did not complete")
	}

	if len(reply.Replies) != 1 || reply.Replies[0].ID != 1 {
		t.Errorf("replies = %+v, want only servo 1", reply.Replies)
	}
}

func TestStreamClientWriteOnly(t *testing.T) {
	servos := map[int]*SimServo{1: NewSimServo(1)}
	c := pipeClient(t, servos)
	defer c.Close()

	req := &Request{}
	var r RegisterRequest
	r.WriteSingle(RegMode, WriteInt(int(ModeStopped), Int8))
	req.Requests = append(req.Requests, DeviceRequest{ID: 1, Request: r})

	var reply Reply
	done := make(chan error, 1)
	c.AsyncRegister(req, &reply, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("transaction: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transaction did not complete")
	}
	if len(reply.Replies) != 0 {
		t.Errorf("write-only transaction returned replies: %+v", reply.Replies)
	}
}
