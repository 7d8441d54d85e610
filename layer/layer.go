package layer

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spaghettifunk/vkcheck/layer/config"
	"github.com/spaghettifunk/vkcheck/layer/core"
	"github.com/spaghettifunk/vkcheck/layer/vulkan"
)

type Stage uint8

const (
	// Instance is in an uninitialized state
	InstanceStageUninitialized Stage = iota
	// Instance is loading its settings
	InstanceStageInitializing
	// Instance is ready to create devices
	InstanceStageInitialized
	// Instance is in the process of shutting down
	InstanceStageShuttingDown
)

var (
	ErrNotInitialized = errors.New("instance is not initialized")
	ErrUnknownDevice  = errors.New("device was not created by this instance")
)

// Instance is what the application sees as the layer: one settings file, one reporter
// shared by every device, and the devices created through it.
type Instance struct {
	currentStage Stage
	settingsPath string

	settings *config.Settings
	watcher  *config.Watcher
	reporter *core.Reporter

	mutex   sync.RWMutex
	devices map[uuid.UUID]*vulkan.Device
}

// New prepares an instance. An empty settingsPath runs with the default settings and no
// hot reload.
func New(settingsPath string) *Instance {
	return &Instance{
		currentStage: InstanceStageUninitialized,
		settingsPath: settingsPath,
		reporter:     core.NewReporter(),
		devices:      make(map[uuid.UUID]*vulkan.Device),
	}
}

func (i *Instance) Initialize() error {
	i.currentStage = InstanceStageInitializing

	if i.settingsPath == "" {
		i.settings = config.Default()
		i.settings.Apply(i.reporter)
		i.currentStage = InstanceStageInitialized
		return nil
	}

	w, err := config.NewWatcher(i.settingsPath)
	if err != nil {
		core.LogError("%s", err)
		i.currentStage = InstanceStageUninitialized
		return err
	}
	i.watcher = w
	w.Subscribe(i.onSettings)

	go func() {
		for err := range w.Errors() {
			core.LogWarn("settings watcher: %s", err.Error())
		}
	}()

	i.currentStage = InstanceStageInitialized
	core.LogInfo("layer initialized with settings from %s", i.settingsPath)
	return nil
}

// onSettings is called once at subscription and again after every reload.
func (i *Instance) onSettings(s *config.Settings) {
	s.Apply(i.reporter)

	i.mutex.Lock()
	i.settings = s
	devices := make([]*vulkan.Device, 0, len(i.devices))
	for _, d := range i.devices {
		devices = append(devices, d)
	}
	i.mutex.Unlock()

	for _, d := range devices {
		d.UpdateSettings(s.Validation)
	}
}

func (i *Instance) Stage() Stage {
	return i.currentStage
}

func (i *Instance) Reporter() *core.Reporter {
	return i.reporter
}

func (i *Instance) Settings() *config.Settings {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.settings
}

/**
 * @brief Starts tracking a logical device created on one of the physical devices.
 * @param info What the physical device reported plus what was enabled at creation.
 * @returns the device that owns every object created from it.
 */
func (i *Instance) CreateDevice(info vulkan.DeviceCreateInfo) (*vulkan.Device, error) {
	if i.currentStage != InstanceStageInitialized {
		return nil, ErrNotInitialized
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	d := vulkan.NewDevice(info, i.reporter, i.settings.Validation)
	i.devices[d.ID()] = d
	return d, nil
}

// DestroyDevice forgets the device. Objects still alive on it are dropped with it.
func (i *Instance) DestroyDevice(d *vulkan.Device) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if _, ok := i.devices[d.ID()]; !ok {
		return errors.Wrapf(ErrUnknownDevice, "device %s", d.ID())
	}
	delete(i.devices, d.ID())
	return nil
}

// Devices returns the live devices ordered by id.
func (i *Instance) Devices() []*vulkan.Device {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	out := make([]*vulkan.Device, 0, len(i.devices))
	for _, d := range i.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID().String() < out[b].ID().String() })
	return out
}

func (i *Instance) Shutdown() error {
	i.currentStage = InstanceStageShuttingDown

	i.mutex.Lock()
	n := len(i.devices)
	i.devices = make(map[uuid.UUID]*vulkan.Device)
	i.mutex.Unlock()
	if n > 0 {
		core.LogWarn("shutting down with %d devices still alive", n)
	}

	if i.watcher != nil {
		if err := i.watcher.Close(); err != nil {
			return err
		}
	}

	m := i.reporter.Metrics()
	core.LogInfo("layer shut down: %d diagnostics (%d errors, %d warnings)",
		m.Total(), m.Severity(core.SeverityError), m.Severity(core.SeverityWarning))
	i.currentStage = InstanceStageUninitialized
	return nil
}
