// availability.go — мониторинг доступности хранилища метаданных.
//
// Периодически вызывает Ping backend'а и переводит state.Machine
// между ready и unavailable. Сервисы отклоняют операции (503),
// пока состояние не ready.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/state"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
)

// pingTimeout — таймаут одной проверки доступности.
const pingTimeout = 5 * time.Second

// AvailabilityMonitor — фоновая проверка доступности хранилища метаданных.
type AvailabilityMonitor struct {
	store    metastore.Store
	sm       *state.Machine
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAvailabilityMonitor создаёт монитор.
func NewAvailabilityMonitor(
	store metastore.Store,
	sm *state.Machine,
	interval time.Duration,
	logger *slog.Logger,
) *AvailabilityMonitor {
	return &AvailabilityMonitor{
		store:    store,
		sm:       sm,
		interval: interval,
		logger:   logger.With(slog.String("component", "availability")),
	}
}

// Machine возвращает автомат состояния хранилища.
func (m *AvailabilityMonitor) Machine() *state.Machine {
	return m.sm
}

// Check выполняет одну проверку и возвращает новое состояние.
// Закрытое хранилище не проверяется.
func (m *AvailabilityMonitor) Check(ctx context.Context) state.State {
	if m.sm.Current() == state.StateClosed {
		return state.StateClosed
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	target, reason := state.StateReady, ""
	if err := m.store.Ping(pingCtx); err != nil {
		target, reason = state.StateUnavailable, err.Error()
	}

	changed, err := m.sm.TransitionTo(target, reason)
	if err != nil {
		m.logger.Warn("Недопустимая смена состояния хранилища",
			slog.String("target", string(target)),
			slog.String("error", err.Error()),
		)
		return m.sm.Current()
	}

	if target == state.StateReady {
		middleware.MetastoreReady.Set(1)
	} else {
		middleware.MetastoreReady.Set(0)
	}

	if changed {
		level := slog.LevelInfo
		if target != state.StateReady {
			level = slog.LevelError
		}
		m.logger.Log(ctx, level, "Состояние хранилища метаданных изменено",
			slog.String("state", string(target)),
			slog.String("reason", reason),
		)
	}
	return target
}

// Start выполняет первую проверку синхронно и запускает периодические.
func (m *AvailabilityMonitor) Start(ctx context.Context) {
	m.Check(ctx)

	monCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-monCtx.Done():
				return
			case <-ticker.C:
				m.Check(monCtx)
			}
		}
	}()

	m.logger.Info("Мониторинг хранилища метаданных запущен",
		slog.String("interval", m.interval.String()),
	)
}

// Stop останавливает проверки и переводит автомат в closed.
func (m *AvailabilityMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if _, err := m.sm.TransitionTo(state.StateClosed, "остановка сервиса"); err == nil {
		middleware.MetastoreReady.Set(0)
	}
	m.logger.Info("Мониторинг хранилища метаданных остановлен")
}

// requireReady возвращает 503, если хранилище не в состоянии ready.
func requireReady(sm *state.Machine) *Error {
	if sm.IsReady() {
		return nil
	}
	return unavailableError(nil)
}
