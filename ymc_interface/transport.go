package main

import (
	"context"
	"fmt"

	"ymc-dbw-core/utils"
	"ymc-dbw-core/ymc"
)

// openTransport opens the configured bus. Failing to open it is fatal: the
// interface never runs with a silent reader.
func openTransport(ctx context.Context, cfg ymc.Config, log *utils.Logger) (utils.CANBus, error) {
	switch cfg.Transport {
	case ymc.TransportSocketCAN:
		bus, err := utils.OpenSocketCAN(ctx, cfg.Device)
		if err != nil {
			return nil, err
		}
		log.Info("SocketCAN open on %s", cfg.Device)
		return bus, nil

	case ymc.TransportSerial:
		bus, err := utils.OpenSerial(cfg.Device, cfg.BaudRate)
		if err != nil {
			return nil, err
		}
		bus.SetSkipHook(func(line string, err error) {
			log.Trace("RX skip %q: %v", line, err)
		})
		log.Info("Serial CAN bridge open on %s @ %d baud", cfg.Device, cfg.BaudRate)
		return bus, nil

	case ymc.TransportLoopback:
		lb := utils.NewLoopbackBus()
		ecu := ymc.NewSimulatedECU(lb.Open(), cfg.CommandFrameID, cfg.TelemetryFrameID, log)
		go func() {
			if err := ecu.Run(ctx); err != nil {
				log.Error("ECU simulator: %v", err)
			}
		}()
		log.Info("Loopback bus with simulated ECU")
		return &loopbackTransport{LoopbackEndpoint: lb.Open(), bus: lb}, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// loopbackTransport closes the whole simulated bus with the interface's
// endpoint, which also stops the ECU simulator.
type loopbackTransport struct {
	*utils.LoopbackEndpoint
	bus *utils.LoopbackBus
}

func (t *loopbackTransport) Close() error {
	_ = t.LoopbackEndpoint.Close()
	return t.bus.Close()
}
