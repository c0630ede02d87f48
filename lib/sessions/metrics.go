package sessions

import (
	"context"
	"strconv"
	"time"

	"github.com/onkernel/termlab/lib/lessons"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metrics instruments for session operations.
type Metrics struct {
	commands metric.Int64Counter
	duration metric.Float64Histogram
	resets   metric.Int64Counter
}

// newSessionMetrics creates and registers all session metrics.
func newSessionMetrics(meter metric.Meter, m *manager) (*Metrics, error) {
	commands, err := meter.Int64Counter(
		"termlab_commands_total",
		metric.WithDescription("Total number of command lines executed"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"termlab_command_duration_seconds",
		metric.WithDescription("Time to execute a command line"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	resets, err := meter.Int64Counter(
		"termlab_session_resets_total",
		metric.WithDescription("Total number of session resets"),
	)
	if err != nil {
		return nil, err
	}

	active, err := meter.Int64ObservableGauge(
		"termlab_sessions_active",
		metric.WithDescription("Number of live sessions"),
	)
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(active, int64(m.count()))
			return nil
		},
		active,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{commands: commands, duration: duration, resets: resets}, nil
}

// recordCommand records one executed line.
func (m *manager) recordCommand(ctx context.Context, command string, status int, start time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", strconv.Itoa(status)),
		))
	m.metrics.duration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("command", command)))
}

// recordReset records a session reset.
func (m *manager) recordReset(ctx context.Context, lesson *lessons.Lesson) {
	if m.metrics == nil {
		return
	}
	id := "none"
	if lesson != nil {
		id = lesson.ID
	}
	m.metrics.resets.Add(ctx, 1, metric.WithAttributes(attribute.String("lesson", id)))
}
