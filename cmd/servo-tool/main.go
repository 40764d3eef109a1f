// servo-tool is a bring-up utility for the servo bus. It reads and
// prints telemetry for each configured servo, or broadcasts a stop.
//
// Usage:
//
//	servo-tool -device /dev/ttyACM0 status
//	servo-tool -tcp localhost:4009 -ids 1,2,3 stop
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"mjmech-go-migration/pkg/moteus"
)

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

func transact(client moteus.Client, req *moteus.Request) (*moteus.Reply, error) {
	var reply moteus.Reply
	done := make(chan error, 1)
	client.AsyncRegister(req, &reply, func(err error) { done <- err })
	if err := <-done; err != nil {
		return nil, err
	}
	return &reply, nil
}

func runStatus(client moteus.Client, ids []int) error {
	req := &moteus.Request{}
	for _, id := range ids {
		var r moteus.RegisterRequest
		r.ReadMultiple(moteus.RegMode, 4, moteus.Int16)
		r.ReadMultiple(moteus.RegVoltage, 3, moteus.Int16)
		req.Requests = append(req.Requests, moteus.DeviceRequest{ID: id, Request: r})
	}

	reply, err := transact(client, req)
	if err != nil {
		return err
	}

	replied := make(map[int]map[moteus.Register]moteus.Value, len(reply.Replies))
	for _, r := range reply.Replies {
		replied[r.ID] = r.Values
	}

	fmt.Printf("%4s %-16s %10s %10s %8s %6s %6s %6s\n",
		"id", "mode", "angle", "velocity", "torque", "volt", "temp", "fault")
	for _, id := range ids {
		values, ok := replied[id]
		if !ok {
			fmt.Printf("%4d (no reply)\n", id)
			continue
		}
		fmt.Printf("%4d %-16s %9.2f° %8.1f°/s %7.2fNm %5.1fV %5.0fC %6d\n",
			id,
			moteus.Mode(moteus.ReadInt(values[moteus.RegMode])),
			moteus.ReadPosition(values[moteus.RegPosition]),
			moteus.ReadVelocity(values[moteus.RegVelocity]),
			moteus.ReadTorque(values[moteus.RegTorque]),
			moteus.ReadVoltage(values[moteus.RegVoltage]),
			moteus.ReadTemperature(values[moteus.RegTemperature]),
			moteus.ReadInt(values[moteus.RegFault]))
	}
	return nil
}

func runStop(client moteus.Client, ids []int) error {
	req := &moteus.Request{}
	for _, id := range ids {
		var r moteus.RegisterRequest
		r.WriteSingle(moteus.RegMode,
			moteus.WriteInt(int(moteus.ModeStopped), moteus.Int8))
		req.Requests = append(req.Requests, moteus.DeviceRequest{ID: id, Request: r})
	}

	if _, err := transact(client, req); err != nil {
		return err
	}
	fmt.Printf("stopped %d servos\n", len(ids))
	return nil
}

func main() {
	device := flag.String("device", "", "Serial servo bus device")
	baud := flag.Int("baud", 3000000, "Serial baud rate")
	tcpAddr := flag.String("tcp", "", "TCP servo bus address (mock-servo)")
	idsFlag := flag.String("ids", "1,2,3,4,5,6,7,8,9,10,11,12", "Servo ids")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "status"
	}

	ids, err := parseIDs(*idsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var client moteus.Client
	switch {
	case *tcpAddr != "":
		client, err = moteus.NewTCPClient(*tcpAddr, 0)
	case *device != "":
		client, err = moteus.NewSerialClient(moteus.SerialConfig{
			Device:   *device,
			BaudRate: *baud,
		})
	default:
		fmt.Fprintln(os.Stderr, "Error: one of -device or -tcp is required")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	switch command {
	case "status":
		err = runStatus(client, ids)
	case "stop":
		err = runStop(client, ids)
	default:
		err = fmt.Errorf("unknown command %q (want status or stop)", command)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
