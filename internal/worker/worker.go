package worker

import (
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/donor-caging/internal/config"
)

// Dial connects to the Temporal frontend described by cfg.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "worker: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// New creates a Temporal worker that polls cfg.TaskQueue and runs the
// caging workflow and its activity.
func New(c client.Client, cfg config.TemporalConfig, proc Processor) sdkworker.Worker {
	w := sdkworker.New(c, cfg.TaskQueue, sdkworker.Options{})
	Register(w, cfg, proc)
	return w
}

// Registry is the part of a Temporal worker and the test environments that
// Register needs.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivity(a interface{})
}

// Register adds the caging workflow and activities to r.
func Register(r Registry, cfg config.TemporalConfig, proc Processor) {
	wf := &Workflows{
		ActivityTimeout: cfg.ActivityTimeout(),
		MaxAttempts:     int32(cfg.MaxAttempts),
	}
	r.RegisterWorkflowWithOptions(wf.Caging, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivity(NewActivities(proc))
}

// zapLogger adapts a zap logger to the Temporal SDK logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewLogger returns a Temporal logger that writes through l.
func NewLogger(l *zap.Logger) tlog.Logger {
	return zapLogger{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l zapLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l zapLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l zapLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l zapLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
