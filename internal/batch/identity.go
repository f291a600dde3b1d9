/**
 * Batch identity
 *
 * Batches are named DD_MM_YYYY_<BANK>_<NN> with the date taken in Egypt
 * local time and NN a per-(bank, date) sequence starting at 01.
 */

package batch

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeZone for batch dates
const DefaultTimeZone = "Africa/Cairo"

// LocalToday returns today's date in the given zone, falling back to the UTC
// date when the zone is unavailable.
func LocalToday(now time.Time, tz string) time.Time {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if tz == "" {
		tz = DefaultTimeZone
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		now = now.In(loc)
	} else {
		now = now.UTC()
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatName formats DD_MM_YYYY_<BANK>_<NN> with NN two digits
func FormatName(d time.Time, bankCode string, seq int) string {
	return fmt.Sprintf("%02d_%02d_%04d_%s_%02d", d.Day(), int(d.Month()), d.Year(), bankCode, seq)
}

// ParseSeq extracts the sequence from a batch name when it matches the given
// bank and date; ok is false otherwise.
func ParseSeq(name, bankCode string, d time.Time) (int, bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 5 {
		return 0, false
	}
	// Bank codes may themselves contain underscores (BANQUE_MISR)
	nn := parts[len(parts)-1]
	bank := strings.Join(parts[3:len(parts)-1], "_")
	if bank != bankCode {
		return 0, false
	}
	dd, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	yyyy, err3 := strconv.Atoi(parts[2])
	seq, err4 := strconv.Atoi(nn)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return 0, false
	}
	if dd != d.Day() || mm != int(d.Month()) || yyyy != d.Year() {
		return 0, false
	}
	return seq, true
}

// Identity is one allocated batch
type Identity struct {
	BatchDate time.Time
	Seq       int
	Name      string
}

// NextIdentity computes the next (date, seq, name) for a bank from the batch
// names already allocated, without touching the database.
func NextIdentity(bankCode string, existingNames []string, now time.Time, tz string) Identity {
	d := LocalToday(now, tz)
	maxSeq := 0
	for _, n := range existingNames {
		if s, ok := ParseSeq(n, bankCode, d); ok && s > maxSeq {
			maxSeq = s
		}
	}
	seq := maxSeq + 1
	return Identity{BatchDate: d, Seq: seq, Name: FormatName(d, bankCode, seq)}
}
