package maintenance

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule accepts a cron expression ("0 * * * *", "@hourly",
// "@every 5m"), a Go duration ("90s") or an HH:MM interval ("01:30").
// Intervals become "@every" specs.
func ParseSchedule(raw string) (string, cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil, fmt.Errorf("schedule required")
	}

	spec := s
	if !strings.ContainsAny(s, " \t") && !strings.HasPrefix(s, "@") {
		d, err := parseInterval(s)
		if err != nil {
			return "", nil, fmt.Errorf("invalid schedule %q (use cron like '0 * * * *', HH:MM like '01:30', or duration like '5m')", raw)
		}
		spec = "@every " + d.String()
	}

	sched, err := parser.Parse(spec)
	if err != nil {
		return "", nil, fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return spec, sched, nil
}

func parseInterval(v string) (time.Duration, error) {
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, err
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
