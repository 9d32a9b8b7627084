package analysis

import (
	"fmt"
	"io"
	"sync"

	"github.com/theimaginaryfoundation/squeeze-o-bot/analysis/fileutils"
)

// maxLoggedErrorLen caps error text in progress lines.
const maxLoggedErrorLen = 300

// Stage is a step of an orchestration run.
type Stage int

const (
	StageIdle Stage = iota
	StagePreprocessing
	StageChunking
	StageValidating
	StageProcessing
	StageAggregating
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StagePreprocessing:
		return "preprocessing"
	case StageChunking:
		return "chunking"
	case StageValidating:
		return "validating"
	case StageProcessing:
		return "processing"
	case StageAggregating:
		return "aggregating"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// EventKind classifies an Event.
type EventKind int

const (
	EventStage EventKind = iota
	EventChunkValidated
	EventChunkStarted
	EventChunkSucceeded
	EventChunkFailed
)

// Event is emitted by the orchestrator as it moves through a run.
type Event struct {
	Stage       Stage
	Kind        EventKind
	ChunkIndex  int
	TotalChunks int
	Message     string
	Err         error
	Validation  *BudgetValidationResult
}

// Observer receives run events. Calls are serialized by the orchestrator.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Observers fans events out to several observers in order.
type Observers []Observer

func (obs Observers) OnEvent(e Event) {
	for _, o := range obs {
		if o != nil {
			o.OnEvent(e)
		}
	}
}

type discardObserver struct{}

func (discardObserver) OnEvent(Event) {}

// LogObserver writes one progress line per event.
type LogObserver struct {
	mu   sync.Mutex
	w    io.Writer
	name string
}

// NewLogObserver writes lines prefixed with "progress <name>:".
func NewLogObserver(w io.Writer, name string) *LogObserver {
	return &LogObserver{w: w, name: name}
}

func (l *LogObserver) OnEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch e.Kind {
	case EventStage:
		if e.Err != nil {
			fmt.Fprintf(l.w, "progress %s: stage=%s err=%s\n", l.name, e.Stage, errText(e.Err))
			return
		}
		if e.Message != "" {
			fmt.Fprintf(l.w, "progress %s: stage=%s %s\n", l.name, e.Stage, e.Message)
			return
		}
		fmt.Fprintf(l.w, "progress %s: stage=%s\n", l.name, e.Stage)
	case EventChunkValidated:
		if v := e.Validation; v != nil {
			fmt.Fprintf(l.w, "progress %s: chunk %d/%d tokens=%d available=%d utilization=%.2f%% fits=%v\n",
				l.name, e.ChunkIndex+1, e.TotalChunks, v.TotalInputTokens, v.AvailableTokens, v.UtilizationPercent, v.FitsBudget)
		}
	case EventChunkStarted:
		fmt.Fprintf(l.w, "progress %s: chunk %d/%d started\n", l.name, e.ChunkIndex+1, e.TotalChunks)
	case EventChunkSucceeded:
		fmt.Fprintf(l.w, "progress %s: chunk %d/%d ok %s\n", l.name, e.ChunkIndex+1, e.TotalChunks, e.Message)
	case EventChunkFailed:
		fmt.Fprintf(l.w, "progress %s: chunk %d/%d skipped: %s\n", l.name, e.ChunkIndex+1, e.TotalChunks, errText(e.Err))
	}
}

func errText(err error) string {
	if err == nil {
		return "<nil>"
	}
	return fileutils.Truncate(err.Error(), maxLoggedErrorLen)
}
