package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cornelk/hashmap"
	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/pkg/config"
	"github.com/srg/gattd/pkg/gatt"
	"github.com/srg/gattd/pkg/peripheral"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the attribute tree described in a config file",
	Long: `Loads the configuration and service description from a YAML file and serves
it until interrupted. Characteristics hold in-memory values: a peer write
replaces the value and is pushed to subscribed centrals.`,
	RunE: runServe,
}

var serveConfigPath string

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to the YAML configuration (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	store := newMemoryStore(logger)
	specs, err := cfg.Specs(store.Bind)
	if err != nil {
		return err
	}
	p, err := peripheral.New(cfg, logger, specs...)
	if err != nil {
		return err
	}
	store.Attach(p)

	p.OnConnectionChanged(func(device string, connected bool) {
		logger.WithFields(logrus.Fields{
			"device":    device,
			"address":   bluez.DeviceAddress(dbus.ObjectPath(device)),
			"connected": connected,
		}).Info("Connection changed")
	})

	return runPeripheral(p, logger)
}

// runPeripheral starts p and stops it on SIGINT/SIGTERM.
func runPeripheral(p *peripheral.Peripheral, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nCtrl+C pressed, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	err := p.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Peripheral stopped")
	}
	return err
}

// valueSetter pushes characteristic values. *peripheral.Peripheral implements it.
type valueSetter interface {
	SetValue(ref string, v gatt.Value) error
}

// memoryStore backs configured characteristics with in-memory values.
type memoryStore struct {
	values *hashmap.Map[string, gatt.Value]
	setter valueSetter
	logger *logrus.Logger
}

func newMemoryStore(logger *logrus.Logger) *memoryStore {
	return &memoryStore{values: hashmap.New[string, gatt.Value](), logger: logger}
}

// Attach sets where writes are pushed to.
func (m *memoryStore) Attach(s valueSetter) { m.setter = s }

// Bind is a config.Binder.
func (m *memoryStore) Bind(ref string, initial gatt.Value) (gatt.ReadFunc, gatt.WriteFunc) {
	m.values.Set(ref, initial)
	kind := initial.Kind()

	read := func() (gatt.Value, error) {
		v, ok := m.values.Get(ref)
		if !ok {
			return gatt.Value{}, fmt.Errorf("no value for %s", ref)
		}
		return v, nil
	}
	write := func(data []byte) (int32, error) {
		v := gatt.Bytes(data)
		if kind == gatt.KindString {
			v = gatt.String(string(data))
		}
		m.values.Set(ref, v)
		m.logger.WithFields(logrus.Fields{"ref": ref, "size": len(data)}).Debug("Stored written value")
		if m.setter != nil {
			if err := m.setter.SetValue(ref, v); err != nil {
				m.logger.WithError(err).WithField("ref", ref).Warn("Failed to push written value")
			}
		}
		return 0, nil
	}
	return read, write
}
