package oemlock

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/kardianos/oemlock/events"
	"github.com/kardianos/oemlock/lockdef"
)

// MemoryName is returned by Memory.Name.
const MemoryName = "Dummy OemLock HAL 1.0"

// PropertyUnlockAllowed is the property seeding the device flag.
const PropertyUnlockAllowed = "sys.oem_unlock_allowed"

// PropertyFunc looks up a system property. It reports false when unset.
type PropertyFunc func(name string) (string, bool)

// MemoryOptions configures a Memory.
type MemoryOptions struct {
	// Property seeds the device flag on first read. A nil func, an unset
	// property or a value that is not a number all mean "not allowed".
	Property PropertyFunc

	Events events.Publisher
	Logger *slog.Logger
}

// Memory is a Service keeping both flags in process memory. The carrier
// flag starts allowed. Nothing is persisted.
type Memory struct {
	property PropertyFunc
	events   events.Publisher
	log      *slog.Logger

	mu         sync.Mutex
	carrier    bool
	device     bool
	deviceRead bool
}

var _ Service = (*Memory)(nil)

// NewMemory returns a Memory with the carrier flag allowed.
func NewMemory(opt MemoryOptions) *Memory {
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Memory{
		property: opt.Property,
		events:   opt.Events,
		log:      log,
		carrier:  true,
	}
}

// Name returns MemoryName.
func (m *Memory) Name(ctx context.Context) (Status, string) {
	return StatusOK, MemoryName
}

// IsCarrierAllowed returns the carrier flag.
func (m *Memory) IsCarrierAllowed(ctx context.Context) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StatusOK, m.carrier
}

// SetCarrierAllowed sets the carrier flag. The signature is not verified.
func (m *Memory) SetCarrierAllowed(ctx context.Context, allowed bool, signature []byte) SecureStatus {
	if len(signature) > 0 {
		m.log.WarnContext(ctx, "signature provided but is not being used", "size", len(signature))
	}
	m.mu.Lock()
	m.carrier = allowed
	m.mu.Unlock()
	events.Notify(ctx, m.events, m.log, "memory", lockdef.FieldCarrier, allowed)
	return SecureOK
}

// IsDeviceAllowed returns the device flag. The first call seeds it from
// the PropertyUnlockAllowed property.
func (m *Memory) IsDeviceAllowed(ctx context.Context) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.deviceRead {
		m.device = m.readProperty()
		m.deviceRead = true
	}
	return StatusOK, m.device
}

func (m *Memory) readProperty() bool {
	if m.property == nil {
		return false
	}
	v, ok := m.property(PropertyUnlockAllowed)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		m.log.Warn("property is not a number", "name", PropertyUnlockAllowed, "value", v)
		return false
	}
	return n != 0
}

// SetDeviceAllowed sets the device flag. The property is not read
// afterwards.
func (m *Memory) SetDeviceAllowed(ctx context.Context, allowed bool) Status {
	m.mu.Lock()
	m.device = allowed
	m.deviceRead = true
	m.mu.Unlock()
	events.Notify(ctx, m.events, m.log, "memory", lockdef.FieldDevice, allowed)
	return StatusOK
}
