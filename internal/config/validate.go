package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json names ("scan.step_limit") instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct rules and every duration field.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				// Drop the root type name from the namespace.
				ns := fe.Namespace()
				if i := strings.IndexByte(ns, '.'); i >= 0 {
					ns = ns[i+1:]
				}
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", ns, fe.Tag()+paramSuffix(fe.Param())))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	var errs []error
	for path, raw := range durationFields(cfg) {
		d, err := ParseDurationField(path, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if d == 0 && positiveDurations[path] && strings.TrimSpace(raw) != "" {
			errs = append(errs, fmt.Errorf("%s: duration must be > 0 (omit it for the default)", path))
		}
	}
	if st := cfg.Storage; st != nil {
		d := strings.ToLower(strings.TrimSpace(st.Driver))
		if d != "" && d != "none" && strings.TrimSpace(st.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path: required for driver %q", st.Driver))
		}
	}
	if cfg.Scan.SpawnpointsOnly && cfg.Scan.Mode == "spawn-points" {
		errs = append(errs, errors.New("scan.spawnpoints_only: only applies to hex mode"))
	}
	return errors.Join(errs...)
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// positiveDurations are the fields where zero has no working meaning
// (tickers, backoff steps, request timeouts), so "0s" is rejected.
var positiveDurations = map[string]bool{
	"scan.cooldown":            true,
	"scan.cooldown_refresh":    true,
	"scan.tick":                true,
	"scan.schedule_retry_base": true,
	"scan.schedule_retry_max":  true,
	"scan.spawn_window":        true,
	"client.timeout":           true,
	"storage.flush_interval":   true,
	"notifier.retry_base":      true,
	"notifier.retry_max_delay": true,
	"webhook.timeout":          true,
}

func durationFields(cfg *Config) map[string]string {
	s := cfg.Scan
	out := map[string]string{
		"scan.scan_delay":          s.ScanDelay,
		"scan.login_delay":         s.LoginDelay,
		"scan.cooldown":            s.Cooldown,
		"scan.cooldown_refresh":    s.CooldownRefresh,
		"scan.tick":                s.Tick,
		"scan.schedule_retry_base": s.ScheduleRetryBase,
		"scan.schedule_retry_max":  s.ScheduleRetryMax,
		"scan.spawn_delay":         s.SpawnDelay,
		"scan.spawn_window":        s.SpawnWindow,
		"scan.stagger":             s.Stagger,
		"client.timeout":           cfg.Client.Timeout,
	}
	if st := cfg.Storage; st != nil {
		out["storage.busy_timeout"] = st.BusyTimeout
		out["storage.flush_interval"] = st.FlushInterval
	}
	if n := cfg.Notifier; n != nil {
		out["notifier.retry_base"] = n.RetryBase
		out["notifier.retry_max_delay"] = n.RetryMaxDelay
		out["notifier.dedup_window"] = n.DedupWindow
		out["notifier.alert_min_remaining"] = n.AlertMinRemaining
	}
	if w := cfg.Webhook; w != nil {
		out["webhook.timeout"] = w.Timeout
	}
	if c := cfg.Control; c != nil {
		out["control.read_timeout"] = c.ReadTimeout
		out["control.write_timeout"] = c.WriteTimeout
	}
	if m := cfg.Maintenance; m != nil {
		out["maintenance.retention"] = m.Retention
	}
	return out
}
