package record

import (
	"crypto/rand"
	"regexp"
	"time"
)

// Patient ID format: <YYYYMMDD>-<4 chars from A-Z0-9>. The suffix alphabet
// gives 36^4 combinations per day; collisions are possible, so the store
// still enforces uniqueness at write time and callers retry on conflict.
const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var patientIDPattern = regexp.MustCompile(`^\d{8}-[A-Z0-9]{4}$`)

// NewPatientID generates a patient identifier for the given time.
func NewPatientID(now time.Time) string {
	buf := make([]byte, 4)
	rand.Read(buf)
	suffix := make([]byte, 4)
	for i, b := range buf {
		suffix[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return now.Format("20060102") + "-" + string(suffix)
}

// ValidPatientID reports whether s matches the generated ID format. Imported
// records may carry foreign IDs, so this is informational, not enforced.
func ValidPatientID(s string) bool { return patientIDPattern.MatchString(s) }
