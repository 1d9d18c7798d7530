package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns an id of the form YYYY/MM/DD/session-<unix>-<6 hex>.
// The date prefix keeps file-backed memories grouped by day.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s/session-%d-%s", now.Format("2006/01/02"), now.Unix(), suffix)
}
