package sigrok

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoDevice        = errors.New("sigrok: no supported device found")
	ErrAmbiguousDevice = errors.New("sigrok: more than one supported device found")
)

// SelectDevice scans and returns the only attached device. It fails with
// ErrNoDevice or ErrAmbiguousDevice when there is not exactly one.
func (w *Workbench) SelectDevice(ctx context.Context) (DeviceDescriptor, error) {
	res, err := w.Scan(ctx)
	if err != nil {
		return DeviceDescriptor{}, err
	}
	switch res.Kind {
	case NoneFound:
		return DeviceDescriptor{}, ErrNoDevice
	case MultipleFound:
		return DeviceDescriptor{}, fmt.Errorf("%w: %d candidates", ErrAmbiguousDevice, len(res.Devices))
	}
	dev, _ := res.Single()
	return dev, nil
}

// CaptureToFile captures samples records from the only attached device at the
// default rate and saves them to out. Canceling ctx stops the capture early;
// the samples taken so far are still saved.
func (w *Workbench) CaptureToFile(ctx context.Context, out string, samples int) error {
	dev, err := w.SelectDevice(ctx)
	if err != nil {
		return err
	}
	h, err := w.StartAcquisition(ctx, dev, 0, dev.ChannelCount, WithSampleLimit(samples))
	if err != nil {
		return err
	}
	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Cancel()
		<-h.Done()
	}
	werr := h.Wait(context.WithoutCancel(ctx))

	var ai *AcquisitionInterrupted
	if werr != nil && !errors.As(werr, &ai) {
		return werr
	}
	if err := w.Save(context.WithoutCancel(ctx), out, FormatAuto); err != nil {
		return err
	}
	return werr
}
