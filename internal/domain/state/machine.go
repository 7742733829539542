// Пакет state — конечный автомат жизненного цикла клиента хранилища метаданных.
//
// Жизненный цикл:
//   - init → ready | unavailable — результат первичного подключения
//   - ready ⇄ unavailable — по результатам периодических проверок
//   - любое состояние → closed — завершение работы, конечное состояние
//
// Операции с файлами выполняются только в состоянии ready.
// Потокобезопасен через sync.RWMutex.
package state

import (
	"fmt"
	"sync"
	"time"
)

// State — состояние клиента хранилища.
type State string

const (
	// StateInit — клиент создан, подключение не проверено
	StateInit State = "init"
	// StateReady — хранилище доступно
	StateReady State = "ready"
	// StateUnavailable — хранилище недоступно, операции отклоняются
	StateUnavailable State = "unavailable"
	// StateClosed — клиент закрыт
	StateClosed State = "closed"
)

// TransitionRecord — запись о смене состояния.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// maxHistory — сколько последних переходов хранится.
const maxHistory = 32

// validTransitions — матрица допустимых переходов.
var validTransitions = map[State]map[State]bool{
	StateInit:        {StateReady: true, StateUnavailable: true, StateClosed: true},
	StateReady:       {StateUnavailable: true, StateClosed: true},
	StateUnavailable: {StateReady: true, StateClosed: true},
	StateClosed:      {},
}

// Machine — конечный автомат состояния хранилища.
type Machine struct {
	mu      sync.RWMutex
	current State
	reason  string
	history []TransitionRecord
}

// NewMachine создаёт автомат в состоянии init.
func NewMachine() *Machine {
	return &Machine{current: StateInit}
}

// Current возвращает текущее состояние.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reason возвращает причину последнего перехода (например, текст ошибки ping).
func (m *Machine) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// IsReady — хранилище готово принимать операции.
func (m *Machine) IsReady() bool {
	return m.Current() == StateReady
}

// TransitionTo выполняет переход. Переход в текущее состояние — no-op
// (обновляется только причина), возвращает false.
func (m *Machine) TransitionTo(target State, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == target {
		m.reason = reason
		return false, nil
	}

	if !validTransitions[m.current][target] {
		return false, &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", m.current, target),
		}
	}

	m.history = append(m.history, TransitionRecord{
		From:      m.current,
		To:        target,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	m.current = target
	m.reason = reason
	return true, nil
}

// History возвращает копию последних переходов.
func (m *Machine) History() []TransitionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]TransitionRecord, len(m.history))
	copy(result, m.history)
	return result
}

// TransitionError — ошибка перехода между состояниями.
type TransitionError struct {
	Code    string
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
