// Package yamlstore реализует реестр участников поверх YAML-файла.
// Это хранилище по умолчанию: файл перезаписывается атомарно
// (временный файл + rename) при каждой новой регистрации.
package yamlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/registry"
)

// DefaultPath имя файла реестра по умолчанию.
const DefaultPath = ".rmf_schedule_node.yaml"

// record одна привязка в YAML-файле.
type record struct {
	ID             uint64  `yaml:"id"`
	Owner          string  `yaml:"owner"`
	Name           string  `yaml:"name"`
	Responsiveness string  `yaml:"responsiveness"`
	Footprint      float64 `yaml:"footprint"`
}

// fileFormat корневая структура YAML-файла.
type fileFormat struct {
	Participants []record `yaml:"participants"`
}

// Store YAML-реестр участников.
type Store struct {
	path    string
	byKey   map[string]*record
	ordered []string // ключи в порядке регистрации
	lastID  uint64
	mu      sync.Mutex
}

// New открывает реестр по указанному пути. Отсутствующий файл означает
// пустой реестр; нечитаемый или некорректный файл — ошибка, узел
// обязан отказаться стартовать.
func New(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}

	s := &Store{
		path:  path,
		byKey: make(map[string]*record),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read participant registry %s: %w", path, err)
	}

	var parsed fileFormat
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse participant registry %s: %w (%s)",
			path, registry.ErrCorruptRegistry, err)
	}

	for i := range parsed.Participants {
		rec := parsed.Participants[i]
		k := key(rec.Owner, rec.Name)
		s.byKey[k] = &rec
		s.ordered = append(s.ordered, k)
		if rec.ID > s.lastID {
			s.lastID = rec.ID
		}
	}
	return s, nil
}

func key(owner, name string) string {
	return owner + "\x00" + name
}

// AddOrRetrieve реализует registry.Store.
func (s *Store) AddOrRetrieve(_ context.Context, desc models.ParticipantDescription) (registry.Registration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(desc.Owner, desc.Name)
	if rec, ok := s.byKey[k]; ok {
		// обновляем описание, идентификатор сохраняется
		rec.Responsiveness = desc.Responsiveness.String()
		rec.Footprint = desc.Profile.Footprint
		if err := s.flushLocked(); err != nil {
			return registry.Registration{}, false, err
		}
		return toRegistration(*rec), false, nil
	}

	s.lastID++
	rec := &record{
		ID:             s.lastID,
		Owner:          desc.Owner,
		Name:           desc.Name,
		Responsiveness: desc.Responsiveness.String(),
		Footprint:      desc.Profile.Footprint,
	}
	s.byKey[k] = rec
	s.ordered = append(s.ordered, k)

	if err := s.flushLocked(); err != nil {
		return registry.Registration{}, false, err
	}
	return toRegistration(*rec), true, nil
}

// All реализует registry.Store.
func (s *Store) All(_ context.Context) ([]registry.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]registry.Registration, 0, len(s.ordered))
	for _, k := range s.ordered {
		out = append(out, toRegistration(*s.byKey[k]))
	}
	return out, nil
}

// Close реализует registry.Store.
func (s *Store) Close() error {
	return nil
}

// flushLocked атомарно перезаписывает файл реестра.
func (s *Store) flushLocked() error {
	out := fileFormat{Participants: make([]record, 0, len(s.ordered))}
	for _, k := range s.ordered {
		out.Participants = append(out.Participants, *s.byKey[k])
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal participant registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".registry-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp registry file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace registry file: %w", err)
	}
	return nil
}

func toRegistration(rec record) registry.Registration {
	resp := models.ResponsiveUnknown
	switch rec.Responsiveness {
	case "responsive":
		resp = models.Responsive
	case "unresponsive":
		resp = models.Unresponsive
	}
	return registry.Registration{
		ID: models.ParticipantID(rec.ID),
		Description: models.ParticipantDescription{
			Name:           rec.Name,
			Owner:          rec.Owner,
			Responsiveness: resp,
			Profile:        models.Profile{Footprint: rec.Footprint},
		},
	}
}
