package ymc

import (
	"context"
	"errors"
	"io"
	"time"

	"ymc-dbw-core/utils"
)

// BaseLinkFrame is the frame id stamped on republished velocity readings.
const BaseLinkFrame = "base_link"

// BusReader decodes telemetry frames from the bus and republishes velocity.
type BusReader struct {
	src   utils.CANReader
	codec Codec
	pub   Publisher
	log   *utils.Logger

	// onTelemetry, if set, sees every decoded telemetry frame.
	onTelemetry func(Telemetry)
	now         func() time.Time
}

func NewBusReader(src utils.CANReader, codec Codec, pub Publisher, log *utils.Logger) *BusReader {
	return &BusReader{src: src, codec: codec, pub: pub, log: log, now: time.Now}
}

// Run reads until ctx is done or the source is closed. Frames that fail to
// decode are skipped.
func (r *BusReader) Run(ctx context.Context) error {
	r.log.Debug("RX loop started")
	defer r.log.Debug("RX loop stopped")

	for {
		frame, err := r.src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, utils.ErrClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			r.log.Error("RX error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		r.log.Trace("RX id=0x%X len=%d data=% X", frame.ID, frame.Length, frame.Data[:frame.Length])

		t, ok, err := r.codec.DecodeFrame(frame)
		if err != nil {
			r.log.Trace("RX skip: %v", err)
			continue
		}
		if !ok {
			continue
		}
		if r.onTelemetry != nil {
			r.onTelemetry(t)
		}
		if r.pub != nil {
			r.pub.PublishVelocity(VelocityReading{
				FrameID:     BaseLinkFrame,
				Stamp:       r.now(),
				VelocityMPS: t.VelocityMPS,
			})
		}
	}
}
