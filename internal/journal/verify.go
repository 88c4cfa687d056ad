package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify walks a journal and validates the hash chain. A valid chain
// reports the entry count; a broken one reports the first bad line.
//
// Each line must carry the hash of the line before it, so the walk
// carries the expected hash forward: genesis for the first entry, then
// the hash of whatever line was just read.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	want := GenesisHash
	n := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
		line := scanner.Bytes()

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return VerifyResult{Error: fmt.Sprintf("line does not parse: %v", err), ErrorLine: n}
		}
		if entry.PrevHash != want {
			if n == 1 {
				return VerifyResult{Error: fmt.Sprintf("first entry prev_hash is %q, want genesis", entry.PrevHash), ErrorLine: 1}
			}
			return VerifyResult{Error: fmt.Sprintf("chain break: prev_hash %s, want %s", entry.PrevHash, want), ErrorLine: n}
		}
		want = HashLine(line)
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}
	return VerifyResult{Valid: true, Lines: n}
}
