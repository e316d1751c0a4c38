package detector

import "strings"

// candidateMarkers are log fragments that indicate a routed swap.
var candidateMarkers = []string{"route", "swap", "trade"}

// IsCandidate reports whether a log batch may contain a swap worth fetching.
// Matching is case-insensitive on the program ID or any candidate marker.
func IsCandidate(logs []string, programID string) bool {
	program := strings.ToLower(programID)
	for _, line := range logs {
		l := strings.ToLower(line)
		if program != "" && strings.Contains(l, program) {
			return true
		}
		for _, m := range candidateMarkers {
			if strings.Contains(l, m) {
				return true
			}
		}
	}
	return false
}
