package schedule

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cercatrack/railfusion/business/data/static"
)

var (
	platformTokenPattern = regexp.MustCompile(`(?i)PLATF\.?\s*\([^)]*\)`)
	trailingRunPattern   = regexp.MustCompile(`(\d{4,6})\D*$`)
	anyRunPattern        = regexp.MustCompile(`\d{3,6}`)
)

// ExtractTrainNumber pulls a train number out of the first candidate
// string that yields one. Preference goes to the longest 4 to 6 digit run
// at the end of a candidate; failing that, any 3 to 6 digit run. Platform
// tokens such as "PLATF.(4)" are stripped before matching.
func ExtractTrainNumber(candidates ...string) string {
	for _, candidate := range candidates {
		cleaned := strings.TrimSpace(platformTokenPattern.ReplaceAllString(candidate, ""))
		if cleaned == "" {
			continue
		}
		if match := trailingRunPattern.FindStringSubmatch(cleaned); match != nil {
			return match[1]
		}
	}
	for _, candidate := range candidates {
		cleaned := strings.TrimSpace(platformTokenPattern.ReplaceAllString(candidate, ""))
		if cleaned == "" {
			continue
		}
		if match := anyRunPattern.FindString(cleaned); match != "" {
			return match
		}
	}
	return ""
}

// TrainNumberParity classifies a train number as even or odd; ok is false
// when the number is absent or not numeric.
func TrainNumberParity(trainNumber string) (static.Parity, bool) {
	if trainNumber == "" {
		return "", false
	}
	value, err := strconv.Atoi(trainNumber)
	if err != nil {
		return "", false
	}
	if value%2 == 0 {
		return static.ParityEven, true
	}
	return static.ParityOdd, true
}
