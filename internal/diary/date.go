package diary

import (
	"fmt"
	"time"
)

// DateKey は t をそのロケーションの暦日で M/D/YYYY（ゼロ埋めなし）に整形します。
func DateKey(t time.Time) string {
	return fmt.Sprintf("%d/%d/%d", int(t.Month()), t.Day(), t.Year())
}
