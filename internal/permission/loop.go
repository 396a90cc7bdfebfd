package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// LoopThreshold is the number of identical consecutive calls that counts
// as a stuck loop.
const LoopThreshold = 3

// loopHistoryCap bounds per-session history.
const loopHistoryCap = 10

// LoopDetector notices a model repeating the exact same tool call, which
// usually means it is stuck. Tool dispatch escalates detected loops to an
// interactive ask.
type LoopDetector struct {
	mu      sync.Mutex
	history map[string][]string // sessionID -> recent call hashes
}

// NewLoopDetector creates a loop detector.
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{history: make(map[string][]string)}
}

// Check records a call and reports whether it is the LoopThreshold-th
// identical call in a row for the session.
func (d *LoopDetector) Check(sessionID, tool string, input any) bool {
	hash := hashCall(tool, input)

	d.mu.Lock()
	defer d.mu.Unlock()

	history := d.history[sessionID]

	looping := false
	if len(history) >= LoopThreshold-1 {
		looping = true
		for _, h := range history[len(history)-(LoopThreshold-1):] {
			if h != hash {
				looping = false
				break
			}
		}
	}

	history = append(history, hash)
	if len(history) > loopHistoryCap {
		history = history[len(history)-loopHistoryCap:]
	}
	d.history[sessionID] = history

	return looping
}

// Clear drops the history for a session.
func (d *LoopDetector) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, sessionID)
}

func hashCall(tool string, input any) string {
	data, _ := json.Marshal(map[string]any{"tool": tool, "input": input})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
