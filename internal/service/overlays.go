package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for unknown overlay ids.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating an overlay whose id is taken.
	ErrExists = errors.New("already exists")
)

// OverlayService manages overlay definitions, persisted as JSON in the data
// directory. An empty data directory keeps them in memory only.
type OverlayService struct {
	dataDir  string
	logger   *zap.Logger
	overlays map[string]OverlayConfig
	bus      *EventBus
	mu       sync.RWMutex
}

// NewOverlayService creates a new overlay service.
func NewOverlayService(dataDir string, bus *EventBus, logger *zap.Logger) *OverlayService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &OverlayService{
		dataDir:  dataDir,
		logger:   logger,
		overlays: make(map[string]OverlayConfig),
		bus:      bus,
	}
	s.loadFromDisk()
	return s
}

// List returns all overlay definitions sorted by id.
func (s *OverlayService) List() []OverlayConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]OverlayConfig, 0, len(s.overlays))
	for _, v := range s.overlays {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Get returns an overlay by id.
func (s *OverlayService) Get(id string) (OverlayConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.overlays[id]
	return o, ok
}

// Create adds a new overlay definition.
func (s *OverlayService) Create(o OverlayConfig) (OverlayConfig, error) {
	if o.ID == "" {
		o.ID = generateID(o.Name)
	}
	if o.ID == "" {
		return OverlayConfig{}, fmt.Errorf("overlay needs an id or a name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.overlays[o.ID]; exists {
		return OverlayConfig{}, fmt.Errorf("overlay %q: %w", o.ID, ErrExists)
	}

	s.overlays[o.ID] = o
	if err := s.saveToDisk(); err != nil {
		delete(s.overlays, o.ID)
		return OverlayConfig{}, err
	}

	s.bus.Publish(Event{Resource: "overlays", Action: "created", ID: o.ID})
	return o, nil
}

// Seed adds definitions whose ids are not yet known. Existing definitions
// win over seeded ones.
func (s *OverlayService) Seed(configs []OverlayConfig) error {
	for _, c := range configs {
		if c.ID == "" {
			c.ID = generateID(c.Name)
		}
		if _, ok := s.Get(c.ID); ok {
			continue
		}
		if _, err := s.Create(c); err != nil && !errors.Is(err, ErrExists) {
			return err
		}
		s.logger.Info("seeded overlay", zap.String("id", c.ID), zap.String("url", c.URL))
	}
	return nil
}

// Update replaces an overlay definition by id.
func (s *OverlayService) Update(id string, o OverlayConfig) (OverlayConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.overlays[id]
	if !exists {
		return OverlayConfig{}, fmt.Errorf("overlay %q: %w", id, ErrNotFound)
	}

	o.ID = id
	s.overlays[id] = o
	if err := s.saveToDisk(); err != nil {
		s.overlays[id] = prev
		return OverlayConfig{}, err
	}

	s.bus.Publish(Event{Resource: "overlays", Action: "updated", ID: id})
	return o, nil
}

// Delete removes an overlay by id.
func (s *OverlayService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.overlays[id]
	if !exists {
		return fmt.Errorf("overlay %q: %w", id, ErrNotFound)
	}

	delete(s.overlays, id)
	if err := s.saveToDisk(); err != nil {
		s.overlays[id] = prev
		return err
	}

	s.bus.Publish(Event{Resource: "overlays", Action: "deleted", ID: id})
	return nil
}

func (s *OverlayService) configFile() string {
	return filepath.Join(s.dataDir, "overlays.json")
}

func (s *OverlayService) loadFromDisk() {
	if s.dataDir == "" {
		return
	}
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return // File doesn't exist yet, start empty
	}

	var overlays map[string]OverlayConfig
	if err := json.Unmarshal(data, &overlays); err != nil {
		s.logger.Warn("ignoring unreadable overlay definitions", zap.String("file", s.configFile()), zap.Error(err))
		return
	}
	s.overlays = overlays
}

func (s *OverlayService) saveToDisk() error {
	if s.dataDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(s.overlays, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode overlays: %w", err)
	}

	if err := os.WriteFile(s.configFile(), data, 0644); err != nil {
		return fmt.Errorf("failed to write overlays: %w", err)
	}
	return nil
}

// generateID creates a URL-safe ID from a name.
func generateID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.ReplaceAll(id, " ", "_")
	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
