package probes

import (
	"errors"
	"regexp"
	"strconv"
)

// pingStats is the distilled summary of one ping run.
type pingStats struct {
	Transmitted int
	Received    int
	LossPercent float64
	// AvgRTTMs is -1 when the output carried no rtt line, which is what
	// ping prints when every packet was lost.
	AvgRTTMs float64
}

var (
	unixSummaryRe = regexp.MustCompile(`(\d+) packets transmitted, (\d+)(?: packets)? received,.*?([\d.]+)% packet loss`)
	unixRTTRe     = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max(?:/(?:mdev|stddev))? = [\d.]+/([\d.]+)/[\d.]+`)
	winSummaryRe  = regexp.MustCompile(`Sent = (\d+), Received = (\d+), Lost = \d+ \((\d+)% loss\)`)
	winRTTRe      = regexp.MustCompile(`Average = (\d+)ms`)
)

var errNoPingSummary = errors.New("no ping summary in output")

// parsePingOutput extracts packet and rtt statistics from GNU, BSD and
// Windows ping output. It is a pure function over the captured text so
// the parsing can be exercised without sending a single packet.
func parsePingOutput(out string) (pingStats, error) {
	stats := pingStats{AvgRTTMs: -1}

	if m := unixSummaryRe.FindStringSubmatch(out); m != nil {
		stats.Transmitted, _ = strconv.Atoi(m[1])
		stats.Received, _ = strconv.Atoi(m[2])
		stats.LossPercent, _ = strconv.ParseFloat(m[3], 64)
		if rtt := unixRTTRe.FindStringSubmatch(out); rtt != nil {
			stats.AvgRTTMs, _ = strconv.ParseFloat(rtt[1], 64)
		}
		return stats, nil
	}

	if m := winSummaryRe.FindStringSubmatch(out); m != nil {
		stats.Transmitted, _ = strconv.Atoi(m[1])
		stats.Received, _ = strconv.Atoi(m[2])
		stats.LossPercent, _ = strconv.ParseFloat(m[3], 64)
		if rtt := winRTTRe.FindStringSubmatch(out); rtt != nil {
			stats.AvgRTTMs, _ = strconv.ParseFloat(rtt[1], 64)
		}
		return stats, nil
	}

	return pingStats{}, errNoPingSummary
}
