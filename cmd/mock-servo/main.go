// mock-servo simulates a bank of twelve servos behind a TCP listener
// speaking the bus register protocol. It lets the host run a full
// sense-plan-actuate loop with no hardware attached:
//
//	mock-servo -listen :4009
//	quad-go -config quad.cfg -tcp localhost:4009
//
// Positions integrate commanded velocity and clamp at the commanded
// stop angle; voltage and temperature are synthesized.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"mjmech-go-migration/pkg/log"
	"mjmech-go-migration/pkg/moteus"
)

type bank struct {
	mu     sync.Mutex
	servos map[int]*moteus.SimServo
	trace  bool
	logger *log.Logger
}

func newBank(ids []int, trace bool) *bank {
	servos := make(map[int]*moteus.SimServo, len(ids))
	for _, id := range ids {
		servos[id] = moteus.NewSimServo(id)
	}
	return &bank{
		servos: servos,
		trace:  trace,
		logger: log.GetLogger("mock-servo"),
	}
}

// step advances the simulation; run at a fixed rate.
func (b *bank) step(dt time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.servos {
		s.Step(dt)
	}
}

// serve handles one host connection.
func (b *bank) serve(conn net.Conn) {
	defer conn.Close()
	b.logger.Info("host connected from %s", conn.RemoteAddr())

	for {
		frame, err := moteus.ReadFrame(conn)
		if err != nil {
			b.logger.Info("host disconnected: %v", err)
			return
		}

		reply := b.handleFrame(frame)
		if reply == nil {
			continue
		}
		if err := moteus.WriteFrame(conn, reply); err != nil {
			b.logger.Warn("write: %v", err)
			return
		}
	}
}

func (b *bank) handleFrame(frame *moteus.Frame) *moteus.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	servo, ok := b.servos[int(frame.Dest)]
	if !ok {
		return nil // absent servo: silence
	}

	req, err := moteus.DecodeRequestPayload(frame.Payload)
	if err != nil {
		b.logger.Warn("servo %d: %v", frame.Dest, err)
		return nil
	}

	for _, w := range req.Writes {
		if b.trace {
			b.logger.Debug("servo %d write start=0x%02x n=%d",
				frame.Dest, w.Start, len(w.Values))
		}
		servo.ApplyWrite(w)
	}

	if len(req.Reads) == 0 {
		return nil
	}
	return &moteus.Frame{
		Source:  frame.Dest,
		Dest:    frame.Source,
		Payload: moteus.EncodeReplyPayload(req.Reads, servo.ReadRegister),
	}
}

func parseIDs(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("bad servo id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func main() {
	listen := flag.String("listen", ":4009", "Listen address")
	idsFlag := flag.String("ids", "1,2,3,4,5,6,7,8,9,10,11,12", "Servo ids")
	rate := flag.Duration("rate", 10*time.Millisecond, "Simulation step interval")
	trace := flag.Bool("trace", false, "Trace register writes")
	flag.Parse()

	logger := log.GetLogger("mock-servo")

	ids, err := parseIDs(*idsFlag)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	b := newBank(ids, *trace)

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		logger.Error("listen: %v", err)
		os.Exit(1)
	}
	logger.Info("simulating %d servos on %s", len(ids), *listen)

	go func() {
		ticker := time.NewTicker(*rate)
		defer ticker.Stop()
		for range ticker.C {
			b.step(*rate)
		}
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go b.serve(conn)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	ln.Close()
}
