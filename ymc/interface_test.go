package ymc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.einride.tech/can"

	"ymc-dbw-core/utils"
)

func newTestInterface(t *testing.T, cfg Config, bus utils.CANBus, keys KeySource, pub Publisher) *Interface {
	t.Helper()
	i, err := New(cfg, bus, keys, pub, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return i
}

type wireFields struct {
	velocity uint16
	steering int16
	shift    Shift
	brake    Brake
}

func fieldsOf(f can.Frame) wireFields {
	return wireFields{
		velocity: uint16(f.Data[2]) | uint16(f.Data[3])<<8,
		steering: int16(uint16(f.Data[4]) | uint16(f.Data[5])<<8),
		shift:    Shift(f.Data[1]),
		brake:    Brake(f.Data[6]),
	}
}

func fieldsOfCmd(c VehicleCommand) wireFields {
	return wireFields{velocity: c.Velocity, steering: c.Steering, shift: c.Shift, brake: c.Brake}
}

func TestHeartbeatIncrementsOncePerFrame(t *testing.T) {
	bus := newFakeBus()
	i := newTestInterface(t, testConfig(), bus, nil, nil)
	ctx := context.Background()

	const ticks = 600
	for n := 0; n < ticks; n++ {
		if _, err := i.Tick(ctx); err != nil {
			t.Fatalf("Tick %d: %v", n, err)
		}
	}
	frames := bus.frames()
	if len(frames) != ticks {
		t.Fatalf("sent %d frames, want %d", len(frames), ticks)
	}
	for n, f := range frames {
		if got, want := f.Data[7], uint8(n%256); got != want {
			t.Fatalf("frame %d heartbeat = %d, want %d", n, got, want)
		}
	}
	if i.FramesSent() != ticks {
		t.Fatalf("FramesSent = %d", i.FramesSent())
	}
}

func TestHeartbeatHeldOnSendFailure(t *testing.T) {
	bus := newFakeBus()
	i := newTestInterface(t, testConfig(), bus, nil, nil)
	ctx := context.Background()

	_, _ = i.Tick(ctx)
	bus.mu.Lock()
	bus.writeErr = errors.New("ENOBUFS")
	bus.mu.Unlock()
	if _, err := i.Tick(ctx); err == nil {
		t.Fatalf("expected send error")
	}
	bus.mu.Lock()
	bus.writeErr = nil
	bus.mu.Unlock()
	_, _ = i.Tick(ctx)

	frames := bus.frames()
	if len(frames) != 2 || frames[0].Data[7] != 0 || frames[1].Data[7] != 1 {
		t.Fatalf("heartbeats around a failed send: %+v", frames)
	}
}

func TestArbitrationSelectsWholeCommand(t *testing.T) {
	bus := newFakeBus()
	cfg := testConfig()
	i := newTestInterface(t, cfg, bus, nil, nil)
	ctx := context.Background()

	i.HandleTwist(TwistCommand{LinearMPS: 5.0, AngularRPS: 0.2})
	autoCmd := i.auto.Command()

	manual := joy()
	manual.Axes[AxisSteering] = -0.4
	manual.Buttons[ButtonCircle] = 1
	i.HandleJoy(manual)
	manualCmd := i.manual.Command()

	f, _ := i.Tick(ctx)
	if i.Automode() || fieldsOf(f) != fieldsOfCmd(manualCmd) {
		t.Fatalf("automode off: sent %+v, want manual %+v", fieldsOf(f), manualCmd)
	}
	if f.Data[0] != byte(ModeAuto) {
		t.Fatalf("mode byte = %d, want %d", f.Data[0], ModeAuto)
	}

	enable := joy()
	enable.Buttons[ButtonEnableAuto] = 1
	i.HandleJoy(enable)
	f, _ = i.Tick(ctx)
	if !i.Automode() || fieldsOf(f) != fieldsOfCmd(autoCmd) {
		t.Fatalf("automode on: sent %+v, want autonomous %+v", fieldsOf(f), autoCmd)
	}

	// disable button: the very next frame is the full manual command,
	// square brake with manual steering, never autonomous steering
	disable := joy()
	disable.Buttons[ButtonSquare] = 1
	i.HandleJoy(disable)
	f, _ = i.Tick(ctx)
	got := fieldsOf(f)
	if i.Automode() {
		t.Fatalf("disable did not clear automode")
	}
	if got.brake != BrakeSquare || got.steering != i.manual.Command().Steering || got.steering == autoCmd.Steering {
		t.Fatalf("mixed frame after disable: %+v (auto steering %d)", got, autoCmd.Steering)
	}
}

func TestArbitrationNeverMixesUnderLoad(t *testing.T) {
	bus := newFakeBus()
	i := newTestInterface(t, testConfig(), bus, nil, nil)

	allowed := map[wireFields]bool{{}: true, fieldsOfCmd(VehicleCommand{}): true}
	var twists []TwistCommand
	for k := 1; k <= 20; k++ {
		tw := TwistCommand{LinearMPS: float64(k), AngularRPS: 0.05 * float64(k)}
		twists = append(twists, tw)
		allowed[fieldsOfCmd(NewAutonomousSource(2.4, DefaultTrimDeg).Handle(tw))] = true
	}
	var joys []Joy
	probe := NewManualSource(DefaultTrimDeg, &Arbitration{}, nil)
	for k := 0; k < 20; k++ {
		j := joy()
		j.Buttons[ButtonAccelerate] = 1
		j.Axes[AxisThrottle] = 1 - 0.1*float64(k)
		j.Axes[AxisSteering] = -0.05 * float64(k)
		if k%2 == 0 {
			j.Buttons[ButtonEnableAuto] = 1
		} else {
			j.Buttons[ButtonSquare] = 1
		}
		joys = append(joys, j)
		allowed[fieldsOfCmd(probe.Handle(j))] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for n := 0; ctx.Err() == nil; n++ {
			i.HandleTwist(twists[n%len(twists)])
		}
	}()
	go func() {
		defer wg.Done()
		for n := 0; ctx.Err() == nil; n++ {
			i.HandleJoy(joys[n%len(joys)])
		}
	}()

	for n := 0; n < 2000; n++ {
		if _, err := i.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	cancel()
	wg.Wait()

	for n, f := range bus.frames() {
		if !allowed[fieldsOf(f)] {
			t.Fatalf("frame %d carries a mixed command: %+v", n, fieldsOf(f))
		}
	}
}

func TestRunShutdownOrdering(t *testing.T) {
	bus := newFakeBus()
	keys := &scriptedKeys{}
	cfg := testConfig()
	cfg.LoopRate = 200
	i := newTestInterface(t, cfg, bus, keys, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- i.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return len(bus.frames()) >= 10 }, "frames")
	waitFor(t, time.Second, func() bool { return bus.reading.Load() == 1 && keys.pollCount() > 0 }, "reader and key poll active")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(cfg.KeyPollInterval + 500*time.Millisecond):
		t.Fatalf("Run did not return after cancel")
	}

	if n := bus.closes.Load(); n != 1 {
		t.Fatalf("transport closed %d times, want 1", n)
	}
	if n := bus.readingAtClose.Load(); n != 0 {
		t.Fatalf("transport closed while %d reads in flight", n)
	}
	if keys.closed != 1 {
		t.Fatalf("key source closed %d times", keys.closed)
	}
	_ = i.Close()
	if n := bus.closes.Load(); n != 1 {
		t.Fatalf("second Close released the transport again")
	}
}

func TestRunGivesUpOnPersistentSendFailure(t *testing.T) {
	bus := newFakeBus()
	bus.writeErr = errors.New("network down")
	cfg := testConfig()
	cfg.LoopRate = 1000
	i := newTestInterface(t, cfg, bus, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := i.Run(ctx)
	if err == nil || ctx.Err() != nil {
		t.Fatalf("Run = %v, want transmit error before timeout", err)
	}
	if bus.closes.Load() != 1 {
		t.Fatalf("transport not released after failure")
	}
}

func TestRunWithSimulatedECU(t *testing.T) {
	lb := utils.NewLoopbackBus()
	defer lb.Close()
	cfg := testConfig()
	pub := &recordingPublisher{}
	i := newTestInterface(t, cfg, lb.Open(), nil, pub)
	ecu := NewSimulatedECU(lb.Open(), cfg.CommandFrameID, cfg.TelemetryFrameID, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ecu.Run(ctx) }()
	done := make(chan error, 1)
	go func() { done <- i.Run(ctx) }()

	enable := joy()
	enable.Buttons[ButtonEnableAuto] = 1
	i.HandleJoy(enable)
	i.HandleTwist(TwistCommand{LinearMPS: 2.5})

	want := 2.5
	waitFor(t, 2*time.Second, func() bool {
		r := pub.snapshot()
		return len(r) > 0 && math.Abs(r[len(r)-1].VelocityMPS-want) < 1e-6
	}, "echoed velocity")
	waitFor(t, time.Second, func() bool { return math.Abs(i.CurrentVelocityKmph()-9.0) < 1e-6 }, "current velocity")

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestStopControlInLoop(t *testing.T) {
	bus := newFakeBus()
	cfg := testConfig()
	cfg.StopControl = true
	cfg.LoopRate = 10
	cfg.StopTimeSec = 0.2 // 2 ticks
	i := newTestInterface(t, cfg, bus, nil, nil)
	ctx := context.Background()

	enable := joy()
	enable.Buttons[ButtonEnableAuto] = 1
	i.HandleJoy(enable)
	i.HandleTwist(TwistCommand{LinearMPS: 3})
	i.HandleCurrentVelocity(3)

	f, _ := i.Tick(ctx)
	if got := fieldsOf(f); got.velocity != 0 || got.brake != BrakeSquare {
		t.Fatalf("startup frame %+v, want braking", got)
	}

	i.HandleCurrentVelocity(0)
	for n := 0; n < 3; n++ {
		_, _ = i.Tick(ctx)
	}
	if i.StopState() != StopReleased {
		t.Fatalf("state %s, want RELEASED", i.StopState())
	}
	f, _ = i.Tick(ctx)
	if got := fieldsOf(f); got.velocity != 108 || got.brake != BrakeNone || i.StopState() != StopRunning {
		t.Fatalf("resume frame %+v state %s", got, i.StopState())
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.LoopRate = 0
	if _, err := New(cfg, newFakeBus(), nil, nil, testLogger()); err == nil {
		t.Fatalf("expected error for zero loop rate")
	}
	if _, err := New(testConfig(), nil, nil, nil, testLogger()); err == nil {
		t.Fatalf("expected error for nil transport")
	}
}

func TestTickLogsTheSourceItSent(t *testing.T) {
	var buf bytes.Buffer
	i, err := New(testConfig(), newFakeBus(), nil, nil, utils.NewLogger(&buf, utils.TRACE))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	i.HandleTwist(TwistCommand{LinearMPS: 3.0, AngularRPS: 0.1})
	for _, auto := range []bool{false, true, false} {
		i.arb.set(auto)
		buf.Reset()
		if _, err := i.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if want := fmt.Sprintf("auto=%v ", auto); !strings.Contains(buf.String(), want) {
			t.Fatalf("TX log %q does not contain %q", buf.String(), want)
		}
	}
}

func TestSelectCommandPairsFlagWithSource(t *testing.T) {
	i := newTestInterface(t, testConfig(), newFakeBus(), nil, nil)
	i.HandleTwist(TwistCommand{LinearMPS: 5.0, AngularRPS: 0.2})
	manual := joy()
	manual.Buttons[ButtonCircle] = 1
	i.HandleJoy(manual)
	autoCmd, manualCmd := i.auto.Command(), i.manual.Command()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := 0; n < 20000; n++ {
			i.arb.set(n%2 == 0)
		}
	}()
	for {
		select {
		case <-done:
			return
		default:
		}
		cmd, auto := i.selectCommand()
		if auto && cmd != autoCmd || !auto && cmd != manualCmd {
			t.Fatalf("selected %+v with auto=%v", cmd, auto)
		}
	}
}
