// Package taskid generates TaskIDs in the format
// defer_YYYYMMDD_HHMMSS_<hex-unique>.
package taskid

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a fresh TaskID. It is monotonic-ish (the timestamp prefix
// sorts chronologically) but is not a strict ordering key: two IDs minted
// within the same second differ only in their random suffix.
func New() string {
	now := time.Now().UTC()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return "defer_" + now.Format("20060102_150405") + "_" + suffix
}
