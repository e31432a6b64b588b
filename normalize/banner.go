package normalize

import (
	"regexp"
	"strings"

	"github.com/jalad-shrimali/cdr-intel/cdr"
)

/* ──────────── banner target extraction ──────────── */

// Operator exports put the number the CDR was requested for in banner lines
// above the header instead of in a column.
var bannerRE = []*regexp.Regexp{
	// airtel
	regexp.MustCompile(`Mobile No '(\d+)'`),
	// jio
	regexp.MustCompile(`(?i)input value[^0-9]*([0-9]{8,15})`),
	// vi
	regexp.MustCompile(`(?i)msisdn[^0-9]*([0-9]{8,15})`),
	// bsnl
	regexp.MustCompile(`(?i)search\s*value[^0-9]*([0-9]{8,15})`),
	regexp.MustCompile(`(?i)target\s*no[^0-9]*([0-9]{8,15})`),
}

// extractTarget scans banner rows for the CDR target number.
func extractTarget(banner [][]string) string {
	for _, rec := range banner {
		line := strings.Join(rec, " ")
		for _, re := range bannerRE {
			if m := re.FindStringSubmatch(line); len(m) > 1 {
				return digits(m[1])
			}
		}
	}
	return ""
}

// footer lines operators append after the data
func systemLine(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	s := strings.ToLower(strings.TrimSpace(rec[0]))
	return strings.HasPrefix(s, "this is system") || strings.Contains(s, "system generated")
}

// callType maps operator call-type spellings onto the canonical set.
func callType(v string) string {
	u := strings.ToUpper(strings.TrimSpace(v))
	switch u {
	case "":
		return ""
	case "IN", "A_IN", "MTC", "INCOMING", "CALL_IN", "VOICE_IN", "MT":
		return cdr.CallIn
	case "OUT", "A_OUT", "MOC", "OUTGOING", "CALL_OUT", "VOICE_OUT", "MO":
		return cdr.CallOut
	case "SMS_IN", "SMT", "SMS-IN", "SMSIN", "SMS_MT", "INCOMING SMS":
		return cdr.SMSIn
	case "SMS_OUT", "SMO", "SMS-OUT", "SMSOUT", "SMS_MO", "OUTGOING SMS":
		return cdr.SMSOut
	}
	return u
}

func incoming(ct string) bool { return ct == cdr.CallIn || ct == cdr.SMSIn }
