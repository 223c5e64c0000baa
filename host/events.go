package host

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/contracthost/codec"
	"github.com/colorfulnotion/contracthost/storage"
)

type EventKind uint8

const (
	// ContractEvent is emitted by contracts and rolled back with the frame
	// that emitted it.
	ContractEvent EventKind = iota
	// DiagnosticEvent is best-effort context for humans. It is never
	// charged and survives frame failure.
	DiagnosticEvent
)

func (k EventKind) String() string {
	if k == DiagnosticEvent {
		return "diagnostic"
	}
	return "contract"
}

type Event struct {
	Kind     EventKind
	Contract storage.ContractID
	Depth    int
	Topics   []codec.Value
	Data     codec.Value
	Message  string
}

func (e Event) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Kind, e.Contract.String()[:8])
	if e.Message != "" {
		fmt.Fprintf(&sb, " %q", e.Message)
	}
	if len(e.Topics) > 0 {
		topics := make([]string, len(e.Topics))
		for i, t := range e.Topics {
			topics[i] = t.String()
		}
		fmt.Fprintf(&sb, " topics=[%s]", strings.Join(topics, ", "))
	}
	fmt.Fprintf(&sb, " data=%s", e.Data)
	return sb.String()
}
