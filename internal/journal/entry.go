package journal

// Event vocabulary for journal entries.
const (
	// EventCommand records one control-socket request and its outcome.
	EventCommand = "command"
	// EventAlert records an enforcement alert at the moment it was
	// raised, independent of whether a reader ever drained it.
	EventAlert = "alert"
	// EventLifecycle records daemon start, stop and degraded-start
	// conditions.
	EventLifecycle = "lifecycle"
)

// Entry is one line in the hash-chained JSONL tamper journal.
// All fields are scalars to guarantee deterministic json.Marshal field
// order for reproducible hashing.
type Entry struct {
	Timestamp string `json:"ts"`
	ID        string `json:"id"`
	Event     string `json:"event"`
	Op        string `json:"op,omitempty"`
	Status    string `json:"status,omitempty"`
	CallerPid uint32 `json:"caller_pid,omitempty"`
	Alert     string `json:"alert,omitempty"`
	SourcePid uint32 `json:"source_pid,omitempty"`
	Detail    string `json:"detail,omitempty"`
	PrevHash  string `json:"prev_hash"`
}

// Command builds a command entry. The unlock secret never reaches the
// journal; callers record only the op name, caller and status.
func Command(op string, callerPid uint32, status string, detail string) Entry {
	return Entry{
		Event:     EventCommand,
		Op:        op,
		Status:    status,
		CallerPid: callerPid,
		Detail:    detail,
	}
}

// AlertRaised builds an alert entry.
func AlertRaised(alert string, sourcePid uint32, detail string) Entry {
	return Entry{
		Event:     EventAlert,
		Alert:     alert,
		SourcePid: sourcePid,
		Detail:    detail,
	}
}

// Lifecycle builds a lifecycle entry.
func Lifecycle(detail string) Entry {
	return Entry{Event: EventLifecycle, Detail: detail}
}
