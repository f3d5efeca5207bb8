package platform

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/fernwood/pushcenter/internal/models"
)

// Memory implements Registrar, Surface, Badger and Opener in-process. It is
// the default wiring when no real platform binding is linked in and the
// fixture every package test runs against.
type Memory struct {
	mu         sync.Mutex
	supported  bool
	permission PermissionState
	// grantOnRequest decides how the simulated prompt resolves.
	grantOnRequest bool
	registered     map[string]models.Subscription
	shown          map[string]models.NotificationRecord
	order          []string
	badge          int
	openTargets    []string
	focused        map[string]bool
	maxActions     int
}

func NewMemory() *Memory {
	return &Memory{
		supported:      true,
		permission:     PermissionDefault,
		grantOnRequest: true,
		registered:     make(map[string]models.Subscription),
		shown:          make(map[string]models.NotificationRecord),
		focused:        make(map[string]bool),
		maxActions:     3,
	}
}

// SetSupported toggles capability detection for NotSupported paths.
func (m *Memory) SetSupported(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supported = ok
}

// SetPermission forces the permission state, bypassing the prompt.
func (m *Memory) SetPermission(state PermissionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permission = state
}

// DenyOnRequest makes the next simulated prompt resolve to denied.
func (m *Memory) DenyOnRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grantOnRequest = false
}

func (m *Memory) Supported(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supported
}

func (m *Memory) Permission(_ context.Context) (PermissionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.supported {
		return PermissionDefault, ErrNotSupported
	}
	return m.permission, nil
}

func (m *Memory) RequestPermission(_ context.Context) (PermissionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.supported {
		return PermissionDefault, ErrNotSupported
	}
	if m.permission != PermissionDefault {
		return m.permission, nil
	}
	if m.grantOnRequest {
		m.permission = PermissionGranted
	} else {
		m.permission = PermissionDenied
	}
	return m.permission, nil
}

func (m *Memory) Register(_ context.Context, serverKey string) (models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.supported {
		return models.Subscription{}, ErrNotSupported
	}
	if m.permission != PermissionGranted {
		return models.Subscription{}, errors.New("platform: permission not granted")
	}
	if serverKey == "" {
		return models.Subscription{}, errors.New("platform: server key rejected")
	}
	endpoint := fmt.Sprintf("https://push.local/%s", uuid.NewString())
	sub := models.Subscription{
		Endpoint:  endpoint,
		P256dhKey: randomKey(32),
		AuthKey:   randomKey(16),
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}
	m.registered[endpoint] = sub
	return sub, nil
}

func (m *Memory) Deregister(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registered, endpoint)
	return nil
}

func (m *Memory) Show(_ context.Context, rec models.NotificationRecord, _ ShowOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.shown[rec.ID]; !exists {
		m.order = append(m.order, rec.ID)
	}
	m.shown[rec.ID] = rec
	return nil
}

func (m *Memory) Close(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shown, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Active(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...), nil
}

func (m *Memory) MaxActions() int {
	return m.maxActions
}

// Shown returns the record currently on the surface, for assertions.
func (m *Memory) Shown(id string) (models.NotificationRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.shown[id]
	return rec, ok
}

func (m *Memory) SetBadge(_ context.Context, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.badge = count
	return nil
}

func (m *Memory) ClearBadge(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.badge = 0
	return nil
}

func (m *Memory) Badge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.badge
}

func (m *Memory) Focus(_ context.Context, target string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.focused[target] {
		return true, nil
	}
	return false, nil
}

func (m *Memory) Open(_ context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openTargets = append(m.openTargets, target)
	m.focused[target] = true
	return nil
}

// Opened lists targets opened as new foreground contexts.
func (m *Memory) Opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.openTargets...)
}

func randomKey(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported hosts; keep the key opaque anyway.
		return uuid.NewString()
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
