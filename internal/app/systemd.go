package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pogoscan/internal/runtime/supervisor"
	logx "pogoscan/pkg/logx"
)

// watchdog speaks the sd_notify protocol. Outside systemd (no
// NOTIFY_SOCKET) every call is a no-op.
type watchdog struct {
	log logx.Logger
}

// startWatchdog reports READY=1 and, when WatchdogSec is set on the unit,
// pings at half the interval for as long as sup runs.
func startWatchdog(sup *supervisor.Supervisor, log logx.Logger) *watchdog {
	w := &watchdog{log: log.With(logx.String("comp", "systemd"))}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		w.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		w.log.Debug("sd_notify ready sent")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		w.log.Warn("systemd watchdog config invalid", logx.Err(err))
		return w
	}
	if interval <= 0 {
		return w
	}
	sup.Go("systemd.watchdog", func(ctx context.Context) error {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		w.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					w.log.Warn("sd_notify watchdog failed", logx.Err(err))
				}
			}
		}
	})
	return w
}

func (w *watchdog) stopping() {
	if w == nil {
		return
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}
