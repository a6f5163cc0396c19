package notify

import (
	"context"
	"fmt"
	"time"

	"hunter_bot/pkg/logger"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
	Confirm(ctx context.Context, prompt string, timeout time.Duration) bool
}

// Stdout — заглушка, всё логирует и всегда подтверждает.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { logger.Info("[NOTIFY] %s", msg) }
func (s *Stdout) Sendf(format string, args ...any) { s.Send(fmt.Sprintf(format, args...)) }
func (s *Stdout) Confirm(_ context.Context, prompt string, _ time.Duration) bool {
	logger.Info("[NOTIFY] CONFIRM (auto-yes): %s", prompt)
	return true
}
