// Package saga предоставляет шаги и последовательный конвейер с компенсацией (Saga Pattern).
package saga

import (
	"context"
	"fmt"
	"time"
)

// Step интерфейс шага саги
type Step interface {
	// Name возвращает имя шага
	Name() string
	// Execute выполняет forward action (основное действие)
	Execute(ctx context.Context) error
	// Compensate выполняет compensating action (откат изменений)
	Compensate(ctx context.Context) error
	// Timeout возвращает таймаут выполнения шага (0 - без таймаута)
	Timeout() time.Duration
}

// BaseStep базовая реализация Step
type BaseStep struct {
	name             string
	executeAction    func(ctx context.Context) error
	compensateAction func(ctx context.Context) error
	timeout          time.Duration
}

// NewBaseStep создает новый базовый шаг
func NewBaseStep(name string) *BaseStep {
	return &BaseStep{name: name}
}

func (s *BaseStep) Name() string {
	return s.name
}

func (s *BaseStep) Execute(ctx context.Context) error {
	if s.executeAction == nil {
		return fmt.Errorf("execute action not set for step %s", s.name)
	}
	return s.executeAction(ctx)
}

func (s *BaseStep) Compensate(ctx context.Context) error {
	if s.compensateAction == nil {
		// Если компенсация не задана, это не ошибка (no-op)
		return nil
	}
	return s.compensateAction(ctx)
}

// HasCompensation сообщает, задано ли компенсирующее действие
func (s *BaseStep) HasCompensation() bool {
	return s.compensateAction != nil
}

func (s *BaseStep) Timeout() time.Duration {
	return s.timeout
}

// WithExecute устанавливает execute action
func (s *BaseStep) WithExecute(action func(ctx context.Context) error) *BaseStep {
	s.executeAction = action
	return s
}

// WithCompensate устанавливает compensate action
func (s *BaseStep) WithCompensate(action func(ctx context.Context) error) *BaseStep {
	s.compensateAction = action
	return s
}

// WithTimeout устанавливает timeout
func (s *BaseStep) WithTimeout(timeout time.Duration) *BaseStep {
	s.timeout = timeout
	return s
}
