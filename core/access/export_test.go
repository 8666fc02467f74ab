package access

import (
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

// SetNowFunc replaces the clock used by sessions and requests until restore is called.
func SetNowFunc(f func() time.Time) (restore func()) {
	nowFunc = f
	return func() { nowFunc = time.Now }
}

func ConnectCount(result string) float64 {
	return promtest.ToFloat64(tenantConnectsTotal.WithLabelValues(result))
}

func HandlesOpen() float64 {
	return promtest.ToFloat64(tenantHandlesOpen)
}
