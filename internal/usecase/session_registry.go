package usecase

import (
	"sync"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain/repository"
	"github.com/geoview-microservice/internal/maphost"
	apperrors "github.com/geoview-microservice/internal/pkg/errors"
	"github.com/geoview-microservice/internal/pkg/metrics"
)

// SessionFactory создает сессии карты с общими зависимостями
type SessionFactory struct {
	source repository.RecordSource
	clock  clock.Clock
	cfg    MapSessionConfig
	logger *zap.Logger
}

// NewSessionFactory создает SessionFactory
func NewSessionFactory(source repository.RecordSource, clk clock.Clock, cfg MapSessionConfig, logger *zap.Logger) *SessionFactory {
	return &SessionFactory{
		source: source,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
	}
}

// NewSessionID генерирует идентификатор сессии
func NewSessionID() string {
	return uuid.NewString()
}

// New создает (но не запускает) сессию для host
func (f *SessionFactory) New(id string, host maphost.MapHost) *MapSession {
	return NewMapSession(id, host, f.source, f.clock, f.cfg, f.logger)
}

// SessionRegistry хранит живые сессии по id
type SessionRegistry struct {
	kind   string
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*MapSession
}

// NewSessionRegistry создает реестр. kind - метка хоста в метриках (ws, stream).
func NewSessionRegistry(kind string, logger *zap.Logger) *SessionRegistry {
	return &SessionRegistry{
		kind:     kind,
		logger:   logger,
		sessions: make(map[string]*MapSession),
	}
}

// Add регистрирует сессию. Сессия с тем же id останавливается и заменяется.
func (r *SessionRegistry) Add(s *MapSession) {
	r.mu.Lock()
	prev := r.sessions[s.ID()]
	r.sessions[s.ID()] = s
	n := len(r.sessions)
	r.mu.Unlock()

	if prev != nil && prev != s {
		prev.Stop()
	}
	metrics.ActiveSessions.WithLabelValues(r.kind).Set(float64(n))
}

// Get возвращает сессию по id
func (r *SessionRegistry) Get(id string) (*MapSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.ErrSessionNotFound.WithDetails(map[string]interface{}{
			"session_id": id,
		})
	}
	return s, nil
}

// Remove останавливает и удаляет сессию. Возвращает false, если её не было.
func (r *SessionRegistry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Stop()
	metrics.ActiveSessions.WithLabelValues(r.kind).Set(float64(n))
	return true
}

// IDs возвращает идентификаторы живых сессий
func (r *SessionRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len возвращает число живых сессий
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StopAll останавливает все сессии (graceful shutdown)
func (r *SessionRegistry) StopAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*MapSession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	metrics.ActiveSessions.WithLabelValues(r.kind).Set(0)

	r.logger.Info("All map sessions stopped",
		zap.String("kind", r.kind),
		zap.Int("count", len(sessions)))
}
