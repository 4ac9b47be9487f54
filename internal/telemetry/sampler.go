package telemetry

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Sampling policy names.
const (
	policyAll         = "all"
	policyNone        = "none"
	policyRatioPrefix = "ratio:"
)

// Sampler decides per trace whether spans are recorded. The decision is
// a pure function of the trace ID so every span of a trace shares fate.
type Sampler interface {
	Sample(traceID string) bool
}

// NewSampler parses a sampling policy: "all", "none", or "ratio:<f>"
// with f in (0, 1].
func NewSampler(policy string) (Sampler, error) {
	switch policy {
	case "", policyAll:
		return allSampler{}, nil
	case policyNone:
		return noneSampler{}, nil
	}

	if strings.HasPrefix(policy, policyRatioPrefix) {
		ratio, parseErr := strconv.ParseFloat(strings.TrimPrefix(policy, policyRatioPrefix), 64)
		if parseErr != nil || ratio <= 0 || ratio > 1 {
			return nil, fmt.Errorf("sampling ratio out of range: %q", policy)
		}

		return ratioSampler{ratio: ratio}, nil
	}

	return nil, fmt.Errorf("unknown sampling policy: %q", policy)
}

type allSampler struct{}

func (allSampler) Sample(string) bool { return true }

type noneSampler struct{}

func (noneSampler) Sample(string) bool { return false }

// ratioSampler keeps a deterministic fraction of traces by projecting
// the leading trace ID bytes onto [0, 1).
type ratioSampler struct {
	ratio float64
}

func (s ratioSampler) Sample(traceID string) bool {
	raw, decodeErr := hex.DecodeString(traceID)
	if decodeErr != nil || len(raw) < 8 {
		return true
	}

	projected := float64(binary.BigEndian.Uint64(raw[:8])) / float64(math.MaxUint64)

	return projected < s.ratio
}
