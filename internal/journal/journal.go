// Package journal is the daemon's append-only tamper journal: JSONL
// with SHA-256 hash chaining. Each entry's prev_hash is the hash of the
// previous entry's JSON line, so any edit, insertion or deletion breaks
// the chain from that point on.
package journal

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the prev_hash for the first entry in a new journal.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Journal is an append-only hash-chained JSONL file.
type Journal struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// Open opens (or creates) a journal file for appending. An existing
// file has its chain tail recovered first, so the chain continues
// across daemon restarts.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}

	prevHash, err := chainTail(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("journal: open file: %w", err)
	}

	return &Journal{path: path, file: file, prevHash: prevHash}, nil
}

// chainTail returns the prev_hash the next entry of an existing journal
// must carry: the hash of its last line, or genesis for a missing or
// empty file. Lines are hashed as they stream by, so nothing is
// retained beyond the running tail.
func chainTail(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return GenesisHash, nil
		}
		return "", fmt.Errorf("journal: read existing file: %w", err)
	}
	defer f.Close()

	tail := GenesisHash
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Bytes(); len(line) > 0 {
			tail = HashLine(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("journal: scan existing file: %w", err)
	}
	return tail, nil
}

// Record appends an entry with hash chaining. Timestamp and ID are
// filled when empty; PrevHash is always overwritten. The line is synced
// to disk before Record returns.
func (j *Journal) Record(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry.PrevHash = j.prevHash
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: marshal entry: %w", err)
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("journal: write entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}

	j.prevHash = HashLine(line)
	return nil
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
