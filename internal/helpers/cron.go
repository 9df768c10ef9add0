package helpers

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// CronParser accepts standard 5-field expressions and descriptors such as @hourly
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func ValidateCron(c string) error {
	c = strings.TrimSpace(c)
	if !strings.HasPrefix(c, "@") && strings.Count(c, " ") < 4 {
		return fmt.Errorf("cron expression too short: %q", c)
	}
	if _, err := CronParser.Parse(c); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", c, err)
	}
	return nil
}
