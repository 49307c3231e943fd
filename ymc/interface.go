package ymc

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.einride.tech/can"
	"golang.org/x/sync/errgroup"

	"ymc-dbw-core/utils"
)

// maxSendFailures is how many consecutive transmit errors are tolerated
// before the loop gives up. The ECU's heartbeat watchdog covers the gap.
const maxSendFailures = 100

// Interface arbitrates between the autonomous and manual sources and
// transmits the command frame at a fixed rate.
type Interface struct {
	cfg   Config
	log   *utils.Logger
	bus   utils.CANBus
	keys  KeySource
	codec Codec

	arb    *Arbitration
	modes  *ModeController
	auto   *AutonomousSource
	manual *ManualSource
	stop   *StopControl
	reader *BusReader

	currentKmph atomic.Uint64 // math.Float64bits
	heartbeat   uint8         // transmit loop only
	sent        atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// New wires the sources, mode controller and bus reader around bus. keys and
// pub may be nil. The Interface owns bus and keys and releases them when Run
// returns.
func New(cfg Config, bus utils.CANBus, keys KeySource, pub Publisher, log *utils.Logger) (*Interface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if bus == nil {
		return nil, fmt.Errorf("config: no CAN transport")
	}

	i := &Interface{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		keys:  keys,
		codec: Codec{TelemetryID: cfg.TelemetryFrameID},
		arb:   &Arbitration{},
		stop:  NewStopControl(cfg.StopControl, cfg.StopThresholdKmph, cfg.StopHoldTicks()),
	}
	i.modes = NewModeController(DriveMode(cfg.Mode), keys, cfg.KeyPollInterval, log)
	i.auto = NewAutonomousSource(cfg.WheelBase, cfg.SteeringTrimDeg)
	i.manual = NewManualSource(cfg.SteeringTrimDeg, i.arb, i.modes)
	i.reader = NewBusReader(bus, i.codec, pub, log)
	i.reader.onTelemetry = i.handleTelemetry
	return i, nil
}

// HandleTwist feeds the autonomous source.
func (i *Interface) HandleTwist(tw TwistCommand) { i.auto.Handle(tw) }

// HandleJoy feeds the manual source.
func (i *Interface) HandleJoy(j Joy) { i.manual.Handle(j) }

// HandleCurrentVelocity records the measured vehicle speed in m/s.
func (i *Interface) HandleCurrentVelocity(mps float64) {
	i.currentKmph.Store(math.Float64bits(mps * 3.6))
}

func (i *Interface) handleTelemetry(t Telemetry) {
	i.currentKmph.Store(math.Float64bits(t.VelocityKmph()))
	if mode := i.modes.Mode(); t.Mode != mode {
		i.log.Debug("ECU reports mode %s, commanded %s", t.Mode, mode)
	}
}

func (i *Interface) CurrentVelocityKmph() float64 {
	return math.Float64frombits(i.currentKmph.Load())
}

func (i *Interface) Automode() bool         { return i.arb.Auto() }
func (i *Interface) Mode() DriveMode        { return i.modes.Mode() }
func (i *Interface) SetMode(m DriveMode)    { i.modes.Set(m) }
func (i *Interface) StopState() StopState   { return i.stop.State() }
func (i *Interface) FramesSent() uint64     { return i.sent.Load() }
func (i *Interface) Modes() *ModeController { return i.modes }

// Command returns the command the next tick would select, before the stop
// control is applied.
func (i *Interface) Command() VehicleCommand {
	cmd, _ := i.selectCommand()
	return cmd
}

// selectCommand reads the automode flag once and returns the matching
// source's command together with the flag it was selected by.
func (i *Interface) selectCommand() (VehicleCommand, bool) {
	if i.arb.Auto() {
		return i.auto.Command(), true
	}
	return i.manual.Command(), false
}

// Tick runs one arbitration cycle: select the live source, snapshot mode
// and heartbeat, encode and send. The heartbeat advances only when the
// frame was handed to the transport.
func (i *Interface) Tick(ctx context.Context) (can.Frame, error) {
	cmd, auto := i.selectCommand()
	mode := i.modes.Mode()
	cmd = i.stop.Apply(cmd, mode, i.CurrentVelocityKmph())

	frame := EncodeFrame(i.cfg.CommandFrameID, mode, cmd.Shift, cmd.Velocity, cmd.Steering, cmd.Brake, i.heartbeat)
	if err := i.bus.WriteFrame(ctx, frame); err != nil {
		return frame, err
	}
	i.heartbeat++
	i.sent.Add(1)

	if i.log.Enabled(utils.TRACE) {
		i.log.Trace("TX id=0x%X data=% X auto=%v mode=%s vel=%d steer=%d brake=%d stop=%s",
			frame.ID, frame.Data[:frame.Length], auto, mode, cmd.Velocity, cmd.Steering, cmd.Brake, i.stop.State())
	}
	return frame, nil
}

// Run starts the bus reader and mode controller and transmits until ctx is
// done. The transport is closed only after both helpers have returned.
func (i *Interface) Run(ctx context.Context) error {
	period := i.cfg.Period()
	i.log.Info("Starting TX: id=0x%X period=%s transport=%s device=%s mode=%s stop_control=%v",
		i.cfg.CommandFrameID, period, i.cfg.Transport, i.cfg.Device, i.modes.Mode(), i.stop.Enabled())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return i.reader.Run(gctx) })
	g.Go(func() error { return i.modes.Run(gctx) })
	g.Go(func() error { return i.transmitLoop(gctx, period) })

	err := g.Wait()
	if cerr := i.Close(); cerr != nil && err == nil {
		err = cerr
	}
	i.log.Info("Completed TX. frames_sent=%d", i.sent.Load())
	return err
}

func (i *Interface) transmitLoop(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			i.log.Warn("Context canceled; stopping TX")
			return nil
		case <-ticker.C:
			if _, err := i.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				failures++
				i.log.Error("Transmit failed (%d in a row): %v", failures, err)
				if failures >= maxSendFailures {
					i.log.Critical("Giving up after %d transmit failures", failures)
					return fmt.Errorf("transmit: %w", err)
				}
				continue
			}
			failures = 0
		}
	}
}

// Close releases the transport and key source. Safe to call more than once.
func (i *Interface) Close() error {
	i.closeOnce.Do(func() {
		if i.keys != nil {
			if err := i.keys.Close(); err != nil {
				i.log.Warn("Restore terminal: %v", err)
			}
		}
		i.closeErr = i.bus.Close()
	})
	return i.closeErr
}
