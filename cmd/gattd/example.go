package main

import (
	"context"
	"fmt"
	"io"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/internal/groutine"
	"github.com/srg/gattd/pkg/config"
	"github.com/srg/gattd/pkg/gatt"
	"github.com/srg/gattd/pkg/peripheral"
)

const (
	exampleTestCharValue = 1000
	exampleReadOnlyValue = 1234
	exampleNotifyRef     = "/dbus_gatt/example/device/test_char"
)

// exampleCmd represents the example command
var exampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Run the demo peripheral",
	Long: `Serves a Device Information service with three characteristics under
/dbus_gatt/example, prints connect and disconnect events and pushes
"xo-xo-xo_N" to test_char every --interval.`,
	Args: cobra.NoArgs,
	RunE: runExample,
}

var (
	exampleInterval time.Duration
	exampleBus      string
	exampleNoAdv    bool
)

func init() {
	exampleCmd.Flags().DurationVar(&exampleInterval, "interval", 5*time.Second, "Interval between test_char updates")
	exampleCmd.Flags().StringVar(&exampleBus, "bus", "system", "Bus to connect to (system, session)")
	exampleCmd.Flags().BoolVar(&exampleNoAdv, "no-advertise", false, "Do not register an advertisement")
}

func runExample(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	cfg.Bus = exampleBus
	cfg.Advertisement.Enabled = !exampleNoAdv
	cfg.Advertisement.LocalName = "gattd-example"
	cfg.Advertisement.ServiceUUIDs = []string{"180a"}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if exampleInterval <= 0 {
		return fmt.Errorf("invalid interval %s: must be positive", exampleInterval)
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	p, err := peripheral.New(cfg, logger, exampleServices(out)...)
	if err != nil {
		return err
	}
	p.OnConnectionChanged(func(device string, connected bool) {
		printConnection(out, bluez.DeviceAddress(dbus.ObjectPath(device)), connected)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startNotifier(ctx, p, exampleNotifyRef, exampleInterval, logger)

	return runPeripheral(p, logger)
}

// exampleServices is the demo tree. Accessors print to out.
func exampleServices(out io.Writer) []gatt.ServiceSpec {
	return []gatt.ServiceSpec{
		gatt.NewService("device", "0000180a-0000-1000-8000-00805f9b34fb",
			gatt.NewCharacteristic("mfgr_name", "00002a29-0000-1000-8000-00805f9b34fb", gatt.Read,
				func() (gatt.Value, error) {
					fmt.Fprintln(out, "()()")
					return gatt.String("hello"), nil
				}, nil),
			gatt.NewCharacteristic("test_char", "00002a30-0000-1000-8000-00805f9b34fb", gatt.Read|gatt.Write|gatt.Notify,
				func() (gatt.Value, error) {
					return gatt.Int32(exampleTestCharValue), nil
				},
				func(data []byte) (int32, error) {
					fmt.Fprintf(out, "write size %d\n", len(data))
					fmt.Fprintln(out, string(data))
					return 0, nil
				}),
			gatt.ReadOnlyValue("test_read_only_value", "00002a31-0000-1000-8000-00805f9b34fb", gatt.Read,
				gatt.Int32(exampleReadOnlyValue)),
		),
	}
}

func printConnection(out io.Writer, address string, connected bool) {
	msg := "device disconnected"
	if connected {
		msg = "device connected"
	}
	if address != "" {
		msg += " " + address
	}
	fmt.Fprintln(out, msg)
}

// startNotifier runs notifyLoop in the "example-notify" goroutine.
func startNotifier(ctx context.Context, s valueSetter, ref string, interval time.Duration, logger *logrus.Logger) <-chan struct{} {
	return groutine.Go(ctx, "example-notify", func(ctx context.Context) {
		notifyLoop(ctx, s, ref, interval, logger)
	})
}

// notifyLoop pushes "xo-xo-xo_N" to ref every interval until ctx is done.
func notifyLoop(ctx context.Context, s valueSetter, ref string, interval time.Duration, logger *logrus.Logger) {
	log := logger.WithFields(logrus.Fields{"ref": ref, "goroutine": groutine.GetName(ctx)})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SetValue(ref, gatt.String(fmt.Sprintf("xo-xo-xo_%d", i))); err != nil {
				log.WithError(err).Warn("Failed to set value")
			}
		}
	}
}
