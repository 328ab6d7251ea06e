// Package progress carries export progress from the component that owns the
// current phase to whoever is watching.
package progress

import (
	"log"
	"sync"
)

// Observer receives progress in [0,1] and a phase description. It is only
// invoked from one goroutine at a time: the writer, then the regrouping pass,
// with the export itself marking phase starts and completion in between.
type Observer interface {
	SetProgress(fraction float64)
	SetMessage(msg string)
}

type Nop struct{}

func (Nop) SetProgress(float64) {}
func (Nop) SetMessage(string)   {}

// OrNop returns o, or a no-op observer when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop{}
	}
	return o
}

// Partial forwards a phase's progress but holds back completion, so the run
// reaches 1 only when its owner says so.
type Partial struct {
	Observer
}

// PartialMax is the highest value Partial forwards.
const PartialMax = 0.999

func (p Partial) SetProgress(f float64) {
	p.Observer.SetProgress(min(f, PartialMax))
}

// Multi fans out to several observers in order.
type Multi []Observer

func (m Multi) SetProgress(f float64) {
	for _, o := range m {
		if o != nil {
			o.SetProgress(f)
		}
	}
}

func (m Multi) SetMessage(msg string) {
	for _, o := range m {
		if o != nil {
			o.SetMessage(msg)
		}
	}
}

// Logger prints the phase and every step of at least Step (default 10%).
type Logger struct {
	L    *log.Logger
	Step float64

	mu   sync.Mutex
	last float64
	msg  string
}

func (l *Logger) SetMessage(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msg = msg
	l.last = -1
	if l.L != nil {
		l.L.Printf("%s...", msg)
	}
}

func (l *Logger) SetProgress(f float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	step := l.Step
	if step <= 0 {
		step = 0.1
	}
	if f < 1 && f-l.last < step {
		return
	}
	if f >= 1 && l.last >= 1 {
		return
	}
	l.last = f
	if l.L != nil {
		l.L.Printf("%s: %.0f%%", l.msg, f*100)
	}
}

// Recorder keeps every value it receives.
type Recorder struct {
	mu       sync.Mutex
	Values   []float64
	Messages []string
}

func (r *Recorder) SetProgress(f float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Values = append(r.Values, f)
}

func (r *Recorder) SetMessage(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, msg)
}

// Last returns the most recent progress value, or -1 if none.
func (r *Recorder) Last() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Values) == 0 {
		return -1
	}
	return r.Values[len(r.Values)-1]
}

func (r *Recorder) Snapshot() ([]float64, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.Values...), append([]string(nil), r.Messages...)
}
