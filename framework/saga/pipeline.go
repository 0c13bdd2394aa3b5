package saga

import (
	"context"
	"errors"
	"fmt"
)

// StepWrapper оборачивает выполнение шага (трассировка, метрики)
type StepWrapper func(ctx context.Context, stepName string, fn func(context.Context) error) error

// CompensationHook вызывается после каждой попытки компенсации
type CompensationHook func(ctx context.Context, stepName string, err error)

// StepError ошибка шага конвейера.
// Unwrap возвращает исходную ошибку шага, поэтому errors.Is/As видят ее сквозь StepError.
type StepError struct {
	Step            string
	Err             error
	Compensated     []string
	CompensationErr error
}

func (e *StepError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("step %s failed: %v (compensation failed: %v)", e.Step, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Pipeline последовательный конвейер шагов.
// Выполнение прерывается на первой ошибке. Если компенсация включена, завершенные шаги
// откатываются в обратном порядке.
type Pipeline struct {
	name       string
	steps      []Step
	compensate bool
	wrapper    StepWrapper
	onCompens  CompensationHook
}

// NewPipeline создает новый конвейер
func NewPipeline(name string) *Pipeline {
	return &Pipeline{name: name}
}

// Name возвращает имя конвейера
func (p *Pipeline) Name() string {
	return p.name
}

// AddStep добавляет шаг в конец конвейера
func (p *Pipeline) AddStep(step Step) *Pipeline {
	p.steps = append(p.steps, step)
	return p
}

// Steps возвращает шаги в порядке выполнения
func (p *Pipeline) Steps() []Step {
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// WithCompensation включает откат завершенных шагов при ошибке
func (p *Pipeline) WithCompensation(enabled bool) *Pipeline {
	p.compensate = enabled
	return p
}

// WithStepWrapper устанавливает обертку для каждого шага
func (p *Pipeline) WithStepWrapper(wrapper StepWrapper) *Pipeline {
	p.wrapper = wrapper
	return p
}

// OnCompensation устанавливает хук компенсации
func (p *Pipeline) OnCompensation(hook CompensationHook) *Pipeline {
	p.onCompens = hook
	return p
}

// Execute выполняет шаги последовательно
func (p *Pipeline) Execute(ctx context.Context) error {
	completed := make([]Step, 0, len(p.steps))

	for _, step := range p.steps {
		if err := p.runStep(ctx, step); err != nil {
			stepErr := &StepError{Step: step.Name(), Err: err}
			if p.compensate {
				stepErr.Compensated, stepErr.CompensationErr = p.compensateSteps(ctx, completed)
			}
			return stepErr
		}
		completed = append(completed, step)
	}

	return nil
}

func (p *Pipeline) runStep(ctx context.Context, step Step) error {
	run := func(ctx context.Context) error {
		if timeout := step.Timeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return step.Execute(ctx)
	}

	if p.wrapper != nil {
		return p.wrapper(ctx, step.Name(), run)
	}
	return run(ctx)
}

// compensateSteps откатывает шаги в обратном порядке.
// Компенсация не останавливается на ошибке: ошибки всех шагов объединяются.
func (p *Pipeline) compensateSteps(ctx context.Context, completed []Step) ([]string, error) {
	// Откат должен пройти даже если запрос уже отменен
	ctx = context.WithoutCancel(ctx)

	var (
		compensated []string
		errs        []error
	)
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if bs, ok := step.(interface{ HasCompensation() bool }); ok && !bs.HasCompensation() {
			continue
		}

		err := step.Compensate(ctx)
		if p.onCompens != nil {
			p.onCompens(ctx, step.Name(), err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("compensation failed for step %s: %w", step.Name(), err))
			continue
		}
		compensated = append(compensated, step.Name())
	}

	return compensated, errors.Join(errs...)
}
