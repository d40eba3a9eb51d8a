//go:build linux

// Package devices enumerates V4L2 capture devices and publishes hotplug
// changes on the event bus.
package devices

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/camstream/camstream/internal/events"
	"github.com/camstream/camstream/internal/logging"
	"github.com/camstream/camstream/pkg/linuxav/hotplug"
	"github.com/camstream/camstream/pkg/linuxav/v4l2"
)

// List returns all V4L2 capture devices currently on the system.
func List() ([]v4l2.DeviceInfo, error) {
	return v4l2.FindDevices()
}

// Monitor watches kernel uevents for video4linux changes and publishes
// DeviceDiscoveryEvent for every device that appears or disappears.
type Monitor struct {
	bus    *events.Bus
	logger *slog.Logger

	mu     sync.Mutex
	known  map[string]v4l2.DeviceInfo // keyed by stable device ID
	cancel context.CancelFunc
}

// NewMonitor creates a monitor that publishes on bus.
func NewMonitor(bus *events.Bus) *Monitor {
	return &Monitor{
		bus:    bus,
		logger: logging.GetLogger("devices"),
		known:  make(map[string]v4l2.DeviceInfo),
	}
}

// Start seeds the device list and begins watching uevents. It returns
// once the watcher is running; events flow until the context is
// cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	devices, err := List()
	if err != nil {
		m.logger.Warn("failed to list initial devices", "error", err)
	} else {
		m.mu.Lock()
		for _, dev := range devices {
			m.known[dev.DeviceID] = dev
			m.publish("added", dev)
		}
		m.mu.Unlock()
		m.logger.Info("initialized with capture devices", "count", len(devices))
	}

	mon, err := hotplug.NewMonitor()
	if err != nil {
		cancel()
		return err
	}
	mon.AddSubsystemFilter(hotplug.SubsystemVideo4Linux)

	ch := make(chan hotplug.Event, 16)
	go func() {
		defer mon.Close()
		if err := mon.Run(ctx, ch); err != nil && ctx.Err() == nil {
			m.logger.Error("hotplug monitor stopped", "error", err)
		}
	}()
	go m.loop(ctx, ch)

	return nil
}

// Stop ends monitoring. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Monitor) loop(ctx context.Context, ch <-chan hotplug.Event) {
	m.logger.Info("hotplug monitoring started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("hotplug monitoring stopped")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Action != hotplug.ActionAdd && ev.Action != hotplug.ActionRemove {
				continue
			}
			m.logger.Debug("uevent", "action", ev.Action, "devname", ev.DevName)

			// On add the kernel may still be registering the node.
			if ev.Action == hotplug.ActionAdd {
				time.Sleep(500 * time.Millisecond)
			}
			m.rescan()
		}
	}
}

// rescan diffs the current device list against the known set.
func (m *Monitor) rescan() {
	devices, err := List()
	if err != nil {
		m.logger.Error("failed to list devices", "error", err)
		return
	}

	current := make(map[string]v4l2.DeviceInfo, len(devices))
	for _, dev := range devices {
		current[dev.DeviceID] = dev
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, old := range m.known {
		if _, exists := current[id]; !exists {
			delete(m.known, id)
			m.publish("removed", old)
			m.logger.Info("device removed", "device", old.DevicePath, "name", old.DeviceName, "id", id)
		}
	}
	for id, dev := range current {
		if _, exists := m.known[id]; !exists {
			m.known[id] = dev
			m.publish("added", dev)
			m.logger.Info("device added", "device", dev.DevicePath, "name", dev.DeviceName, "id", id)
		}
	}
}

func (m *Monitor) publish(action string, dev v4l2.DeviceInfo) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.DeviceDiscoveryEvent{
		DevicePath: dev.DevicePath,
		DeviceName: dev.DeviceName,
		DeviceID:   dev.DeviceID,
		Action:     action,
		Timestamp:  time.Now(),
	})
}
