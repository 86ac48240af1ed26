package state

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

var sessionIDPattern = regexp.MustCompile(`^\d{8}_\d{6}_\d{3}$`)

// NewSessionID returns an id of the form YYYYMMDD_HHMMSS_NNN for t.
func NewSessionID(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format("20060102_150405"), rand.Intn(1000))
}

// ValidSessionID reports whether id has the YYYYMMDD_HHMMSS_NNN form.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// sessionPartition returns the year and month directory names encoded in id.
func sessionPartition(id string) (year, month string, err error) {
	if !ValidSessionID(id) {
		return "", "", fmt.Errorf("invalid session id %q", id)
	}
	return id[0:4], id[4:6], nil
}

// StepID derives the stable identifier of the step at index with the given name.
func StepID(name string, index int) string {
	return fmt.Sprintf("step_%d_%s", index, sanitizeName(name))
}

// sanitizeName keeps names safe for ids and file names.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}
