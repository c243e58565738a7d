package transcript

import (
	"strings"

	"github.com/soyeahso/codexm/internal/agent"
)

// Fixed contents substituted when a turn settles without any text.
const (
	CompactAcknowledgement = "Conversation compacted. Earlier turns are summarized in the agent's context."
	CancelledNotice        = "Turn cancelled."
)

// Result is the settled outcome of one turn.
type Result struct {
	Content   string
	Errors    []string
	Cancelled bool
	Results   []agent.RPCResultEvent
}

// Failed reports whether any error was seen.
func (r Result) Failed() bool { return len(r.Errors) > 0 }

// Reducer folds one turn's events into the placeholder message of a
// transcript. Every visible update is derived from the accumulator, so
// re-applying an update is harmless.
type Reducer struct {
	tr          *Transcript
	placeholder string

	acc        strings.Builder
	afterError bool
	gotFirst   bool
	sawCompact bool
	cancelled  bool
	errs       []string
	results    []agent.RPCResultEvent
}

// NewReducer targets the message with id placeholder and marks the
// transcript as waiting for the first token.
func NewReducer(tr *Transcript, placeholder string) *Reducer {
	tr.SetWaiting(true)
	tr.SetError("")
	return &Reducer{tr: tr, placeholder: placeholder}
}

// Apply folds one event.
func (r *Reducer) Apply(ev agent.Event) {
	switch ev := ev.(type) {
	case agent.TextEvent:
		if !r.gotFirst {
			r.gotFirst = true
			r.tr.SetWaiting(false)
		}
		if r.afterError && !strings.HasPrefix(ev.Text, "\n") {
			r.acc.WriteString("\n\n")
		}
		r.afterError = false
		r.acc.WriteString(ev.Text)
		r.tr.Update(r.placeholder, r.acc.String())

	case agent.RPCResultEvent:
		r.results = append(r.results, ev)
		if ev.Method == agent.MethodThreadCompact {
			r.sawCompact = true
		}

	case agent.ErrorEvent:
		r.errs = append(r.errs, ev.Message)
		r.tr.SetError(ev.Message)
		if ev.Method != "" {
			// A failed batch call stays in the content next to the
			// results of the calls around it.
			if r.acc.Len() > 0 {
				r.acc.WriteString("\n\n")
			}
			r.acc.WriteString(ev.Message)
			r.afterError = true
			r.tr.Update(r.placeholder, r.acc.String())
		} else if r.acc.Len() == 0 {
			r.tr.Update(r.placeholder, strings.Join(r.errs, "\n"))
		}

	case agent.CancelledEvent:
		r.cancelled = true
		if r.acc.Len() == 0 && len(r.errs) == 0 {
			r.tr.Update(r.placeholder, CancelledNotice)
		}
	}
}

// Consume applies every event until the channel closes, then settles.
func (r *Reducer) Consume(events <-chan agent.Event) Result {
	for ev := range events {
		r.Apply(ev)
	}
	return r.Finish()
}

// Finish settles the placeholder content and returns the result.
func (r *Reducer) Finish() Result {
	r.tr.SetWaiting(false)

	content := r.acc.String()
	switch {
	case content != "":
	case len(r.errs) > 0:
		content = strings.Join(r.errs, "\n")
	case r.cancelled:
		content = CancelledNotice
	case r.sawCompact:
		content = CompactAcknowledgement
	}
	r.tr.Update(r.placeholder, content)

	return Result{
		Content:   content,
		Errors:    append([]string(nil), r.errs...),
		Cancelled: r.cancelled,
		Results:   append([]agent.RPCResultEvent(nil), r.results...),
	}
}

// Text returns the accumulated text so far.
func (r *Reducer) Text() string { return r.acc.String() }
