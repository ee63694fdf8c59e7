package pipeline

import "go.uber.org/zap"

// Reporter is the external sink for step and log events. The pipeline calls
// it synchronously before each stage and fire-and-forget during the work;
// implementations must not block.
type Reporter interface {
	Step(name string)
	Log(step, message string)
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) Step(string)     {}
func (NopReporter) Log(_, _ string) {}

// ZapReporter renders step and log events onto a zap logger, which is what
// the CLI and the local HTTP surface use to stream live progress.
type ZapReporter struct {
	L *zap.Logger
}

func (r ZapReporter) Step(name string) {
	r.L.Info("step", zap.String("step", name))
}

func (r ZapReporter) Log(step, message string) {
	r.L.Debug(message, zap.String("step", step))
}
