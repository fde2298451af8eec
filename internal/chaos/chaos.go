// internal/chaos/chaos.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrSteadyStateInvalid aborts an experiment whose preconditions do not hold.
var ErrSteadyStateInvalid = errors.New("steady state invalid, aborting experiment")

// Experiment defines a fault or load scenario and the hypothesis it checks.
type Experiment struct {
	Name       string
	Hypothesis string
	// SteadyState must hold before Method runs; it is sampled again afterwards.
	SteadyState []Metric
	Method      []Action
	// Probes are sampled only after Method.
	Probes     []Metric
	Validation []Assertion
}

// Metric is a measurable ledger property.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold. An empty operator always holds.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case "":
		return true
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action is one step of an experiment's method.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion validates the final observation of a metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	ExperimentName   string             `json:"experiment_name"`
	StartTime        time.Time          `json:"start_time"`
	Duration         time.Duration      `json:"duration"`
	HypothesisHeld   bool               `json:"hypothesis_held"`
	SteadyStateValid bool               `json:"steady_state_valid"`
	Violations       []MetricViolation  `json:"violations"`
	Observations     map[string]float64 `json:"observations"`
	FailedAssertions []string           `json:"failed_assertions"`
	ErrorEvents      []ErrorEvent       `json:"error_events"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Operator   string    `json:"operator"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer      trace.Tracer
	logger      *slog.Logger
	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		tracer: otel.Tracer("lendingledger/chaos"),
		logger: logger,
	}
}

func (e *Engine) Register(exps ...Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exps...)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes one experiment: steady state, method, observation, validation.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string]float64),
	}

	span.AddEvent("validating_steady_state")
	result.Violations = e.sample(ctx, exp.SteadyState, result)
	if len(result.Violations) > 0 {
		span.SetStatus(codes.Error, ErrSteadyStateInvalid.Error())
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("executing_method")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	span.AddEvent("observing")
	metrics := append(append([]Metric(nil), exp.SteadyState...), exp.Probes...)
	result.Violations = append(result.Violations, e.sample(ctx, metrics, result)...)

	span.AddEvent("validating_assertions")
	for _, a := range exp.Validation {
		value, ok := result.Observations[a.Metric]
		if !ok || !a.Condition(value) {
			result.FailedAssertions = append(result.FailedAssertions, a.Message)
		}
	}
	result.HypothesisHeld = len(result.FailedAssertions) == 0 && len(result.Violations) == 0 && len(result.ErrorEvents) == 0
	result.Duration = time.Since(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	e.logger.InfoContext(ctx, "experiment finished",
		"experiment", exp.Name,
		"hypothesis_held", result.HypothesisHeld,
		"violations", len(result.Violations),
		"duration", result.Duration,
	)
	return result, nil
}

// RunAll runs every registered experiment in order and reports whether all hypotheses held.
func (e *Engine) RunAll(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(e.Experiments()))
	var failed []string
	for _, exp := range e.Experiments() {
		res, err := e.Run(ctx, exp)
		if err != nil {
			return results, fmt.Errorf("experiment %s: %w", exp.Name, err)
		}
		results = append(results, *res)
		if !res.HypothesisHeld {
			failed = append(failed, exp.Name)
		}
	}
	if len(failed) > 0 {
		return results, fmt.Errorf("hypothesis violated: %v", failed)
	}
	return results, nil
}

func (e *Engine) sample(ctx context.Context, metrics []Metric, result *Result) []MetricViolation {
	var violations []MetricViolation
	for _, m := range metrics {
		value, err := m.Query(ctx)
		if err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: m.Name,
			})
			violations = append(violations, MetricViolation{
				MetricName: m.Name,
				Operator:   m.Threshold.Operator,
				Expected:   m.Threshold.Value,
				Actual:     -1,
				Timestamp:  time.Now(),
			})
			continue
		}
		result.Observations[m.Name] = value
		if !m.Threshold.Holds(value) {
			violations = append(violations, MetricViolation{
				MetricName: m.Name,
				Operator:   m.Threshold.Operator,
				Expected:   m.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}
	return violations
}
