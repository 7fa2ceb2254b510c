package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nanoframework/nf-debugger-sub001/internal/discovery"
	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/util"
)

// ListDevices prints validated devices.
func ListDevices(w io.Writer, devices []*discovery.Device) error {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No nanoFramework devices found.")
		return nil
	}
	tw := table(w)
	fmt.Fprintln(tw, "PORT\tTARGET\tPLATFORM\tCLR\tBAUD\tUSB")
	for _, d := range devices {
		baud := "-"
		if d.BaudRate > 0 {
			baud = fmt.Sprint(d.BaudRate)
		}
		usb := d.Info.USBID()
		if usb == "" {
			usb = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Port, d.Identity.TargetName,
			d.Identity.PlatformName, d.Identity.CLRVersion, baud, usb)
	}
	return tw.Flush()
}

// PrintDeviceEvent prints one discovery event as a log line.
func PrintDeviceEvent(w io.Writer, ev discovery.Event) {
	ts := ev.Time.Format(time.TimeOnly)
	switch ev.Kind {
	case discovery.DeviceArrived:
		fmt.Fprintf(w, "%s  + %s\n", ts, ev.Device)
	case discovery.DeviceDeparted:
		fmt.Fprintf(w, "%s  - %s\n", ts, ev.Port)
	case discovery.ProbeFailed:
		fmt.Fprintf(w, "%s  ! %s: %v\n", ts, ev.Port, ev.Err)
	case discovery.EnumerationComplete:
		fmt.Fprintf(w, "%s  enumeration complete\n", ts)
	}
}

// Monitor prints target output and engine events until ctx ends or the
// device goes away.
func Monitor(ctx context.Context, w io.Writer, e *engine.Engine) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-e.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case engine.EventMessage:
				fmt.Fprint(w, ev.Text)
			case engine.EventProgramExit:
				fmt.Fprintln(w, "[program exited]")
			case engine.EventNoise:
				if util.IsTextData(ev.Data) {
					fmt.Fprintf(w, "[noise] %q\n", ev.Data)
				} else {
					fmt.Fprintf(w, "[noise] %s of binary data\n", humanize.Bytes(uint64(len(ev.Data))))
				}
			case engine.EventDisconnected:
				return fmt.Errorf("%s disconnected", e.Port().InstanceID())
			}
		}
	}
}
