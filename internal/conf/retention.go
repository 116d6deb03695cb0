package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/tracklist/tracklist/internal/logger"
)

// retentionEnv accepts a period such as "90d", "12w" or "1y" and overrides
// cleanup.retention_days.
const retentionEnv = "CACHE_RETENTION"

var retentionUnits = map[byte]int{'d': 1, 'w': 7, 'm': 30, 'y': 365}

// ParseRetentionPeriod converts "30d", "12w", "6m" or "1y" to days. A bare
// number is days. Months count as 30 days and years as 365.
func ParseRetentionPeriod(period string) (int, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	if period == "" {
		return 0, fmt.Errorf("retention period cannot be empty")
	}

	unit := 1
	if mult, ok := retentionUnits[period[len(period)-1]]; ok {
		unit = mult
		period = period[:len(period)-1]
	}
	n, err := strconv.Atoi(period)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid retention period %q", period)
	}
	return n * unit, nil
}

// applyRetentionOverride sets cleanup.retention_days from CACHE_RETENTION.
// An unparsable value is logged and ignored.
func applyRetentionOverride(v *viper.Viper) {
	raw := os.Getenv(retentionEnv)
	if raw == "" {
		return
	}
	days, err := ParseRetentionPeriod(raw)
	if err != nil {
		GetLogger().Warn("ignoring "+retentionEnv, logger.String("value", raw), logger.Error(err))
		return
	}
	v.Set("cleanup.retention_days", days)
}
