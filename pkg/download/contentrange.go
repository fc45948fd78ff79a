package download

import (
	"strconv"
	"strings"
)

// parseContentRange parses "Content-Range: bytes start-end/total". It
// returns (start, end, total, ok). When total is unknown, total == -1.
func parseContentRange(h string) (int64, int64, int64, bool) {
	h = strings.ToLower(strings.TrimSpace(h))
	body, found := strings.CutPrefix(h, "bytes ")
	if !found {
		return 0, -1, -1, false
	}
	span, totalStr, found := strings.Cut(strings.TrimSpace(body), "/")
	if !found {
		return 0, -1, -1, false
	}
	startStr, endStr, found := strings.Cut(strings.TrimSpace(span), "-")
	if !found {
		return 0, -1, -1, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return 0, -1, -1, false
	}
	end, err := strconv.ParseInt(strings.TrimSpace(endStr), 10, 64)
	if err != nil || end < start {
		return 0, -1, -1, false
	}
	total := int64(-1)
	if totalStr = strings.TrimSpace(totalStr); totalStr != "*" {
		if total, err = strconv.ParseInt(totalStr, 10, 64); err != nil || total <= end {
			return 0, -1, -1, false
		}
	}
	return start, end, total, true
}
