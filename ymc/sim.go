package ymc

import (
	"context"
	"errors"

	"ymc-dbw-core/utils"
)

// SimulatedECU answers every command frame with a telemetry frame that
// reports the commanded mode, shift, velocity and steering, as if the
// vehicle tracked the command perfectly. It backs the loopback transport.
type SimulatedECU struct {
	bus         utils.CANBus
	commandID   uint32
	telemetryID uint32
	log         *utils.Logger
}

func NewSimulatedECU(bus utils.CANBus, commandID, telemetryID uint32, log *utils.Logger) *SimulatedECU {
	return &SimulatedECU{bus: bus, commandID: commandID, telemetryID: telemetryID, log: log}
}

func (e *SimulatedECU) Run(ctx context.Context) error {
	for {
		f, err := e.bus.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, utils.ErrClosed) {
				return nil
			}
			return err
		}
		if f.ID != e.commandID || f.Length < frameLen {
			continue
		}
		reply := f
		reply.ID = e.telemetryID
		reply.Data[6] = 0 // brake
		reply.Data[7] = 0 // heartbeat
		if err := e.bus.WriteFrame(ctx, reply); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.log.Warn("ECU sim: write: %v", err)
		}
	}
}

func (e *SimulatedECU) Close() error { return e.bus.Close() }
