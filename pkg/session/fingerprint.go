package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/relaymind/orchestrator/pkg/xmlstream"
)

// DefaultLoopWindow is the ring buffer size N from §4.6's loop-detection
// rule (default 5).
const DefaultLoopWindow = 5

// loopRepeatThreshold: "if any fingerprint appears >= 3 times in the
// buffer ... terminate with loop_detected" (§4.6).
const loopRepeatThreshold = 3

// fingerprint computes the canonicalised fingerprint of one leaf
// invocation: server + action + canonicalised args, per §4.6.
func fingerprint(leaf *xmlstream.Leaf) string {
	h := sha256.New()
	h.Write([]byte(leaf.Server))
	h.Write([]byte{0})
	h.Write([]byte(leaf.Action))
	h.Write([]byte{0})
	h.Write([]byte(canonicalizeArgs(leaf.Payload)))
	return hex.EncodeToString(h.Sum(nil))
}

// invocationFingerprint reduces a full Invocation (Single/Parallel/
// Sequential) to one fingerprint string by hashing the ordered
// concatenation of its leaves' fingerprints, so a parallel/sequential
// block repeating verbatim is detected the same way a single repeated
// call is.
func invocationFingerprint(inv *xmlstream.Invocation) string {
	h := sha256.New()
	switch inv.Kind {
	case xmlstream.KindSingle:
		h.Write([]byte(fingerprint(inv.Single)))
	default:
		for _, leaf := range inv.Children {
			h.Write([]byte(fingerprint(leaf)))
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// parseErrorFingerprint computes the fingerprint of a failed parse attempt:
// the error kind plus the raw block text, so repeating the same malformed
// tool block is detected as a loop the same way a repeated valid
// invocation is (§4.6, spec ticket §9: "identical parse-error fingerprints
// must still trigger loop_detected").
func parseErrorFingerprint(kind xmlstream.ParseErrorKind, raw string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalizeArgs produces a stable textual form of a leaf's payload:
// for a map, keys are sorted before marshaling so semantically identical
// calls with differently-ordered parameters fingerprint identically.
func canonicalizeArgs(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		raw, err := json.Marshal(payload)
		if err != nil {
			return ""
		}
		return string(raw)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 64)
	for _, k := range keys {
		raw, err := json.Marshal(m[k])
		if err != nil {
			continue
		}
		ordered = append(ordered, k...)
		ordered = append(ordered, '=')
		ordered = append(ordered, raw...)
		ordered = append(ordered, ';')
	}
	return string(ordered)
}

// loopRing is the fixed-size fingerprint history used for loop detection
// (§4.6).
type loopRing struct {
	window int
	buf    []string
}

func newLoopRing(window int) *loopRing {
	if window <= 0 {
		window = DefaultLoopWindow
	}
	return &loopRing{window: window}
}

// push records fp and reports whether the buffer now indicates a loop:
// any fingerprint appears >= loopRepeatThreshold times, or the full
// (window-sized) buffer is a single repeating fingerprint.
func (r *loopRing) push(fp string) bool {
	r.buf = append(r.buf, fp)
	if len(r.buf) > r.window {
		r.buf = r.buf[len(r.buf)-r.window:]
	}

	counts := make(map[string]int, len(r.buf))
	for _, f := range r.buf {
		counts[f]++
		if counts[f] >= loopRepeatThreshold {
			return true
		}
	}
	if len(r.buf) == r.window && len(counts) == 1 {
		return true
	}
	return false
}
