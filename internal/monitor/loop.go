package monitor

import (
	"context"
	"time"

	"hunter_bot/pkg/logger"
)

// Start запускает цикл опроса. Повторный Start на работающем мониторе — no-op.
func (m *Monitor) Start() error {
	if !m.gw.IsConnected(context.Background()) {
		logger.Error("[MONITOR] cannot start: gateway disconnected")
		return ErrGatewayDisconnected
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		logger.Warn("[MONITOR] already running")
		return nil
	}
	m.running = true
	m.stopping = false
	m.err = nil
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})

	go m.run(m.stopCh, m.done)
	logger.Info("[MONITOR] ▶️ started, interval %s", m.cfg.UpdateInterval)
	return nil
}

// Stop просит цикл завершиться и ждёт до StopTimeout.
// Стоп кооперативный: текущий цикл и вызов шлюза не прерываются.
func (m *Monitor) Stop() error {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		logger.Warn("[MONITOR] not running")
		return nil
	}
	if !m.stopping {
		m.stopping = true
		close(m.stopCh)
	}
	done := m.done
	m.runMu.Unlock()

	t := time.NewTimer(m.cfg.StopTimeout)
	defer t.Stop()
	select {
	case <-done:
		logger.Info("[MONITOR] stopped")
		return nil
	case <-t.C:
		logger.Error("[MONITOR] loop still alive after %s", m.cfg.StopTimeout)
		return ErrStopTimeout
	}
}

func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

// Done закрывается, когда текущий цикл завершился. До первого Start — nil.
func (m *Monitor) Done() <-chan struct{} {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.done
}

// Err — причина завершения последнего цикла; nil при штатном Stop.
func (m *Monitor) Err() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.err
}

func (m *Monitor) run(stop <-chan struct{}, done chan struct{}) {
	ctx := context.Background()
	var exitErr error
	defer func() {
		m.runMu.Lock()
		m.running = false
		m.err = exitErr
		m.runMu.Unlock()
		close(done)
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := m.Poll(ctx); err != nil {
			exitErr = err
			logger.Error("[MONITOR] loop terminated: %v", err)
			return
		}

		timer.Reset(m.cfg.UpdateInterval)
		select {
		case <-stop:
			return
		case <-timer.C:
		}
	}
}
