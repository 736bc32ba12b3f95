package smtp

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Transcript step names.
const (
	StepConnection = "CONNECTION"
	StepHello      = "HELLO"
	StepStartTLS   = "STARTTLS"
	StepHello2     = "HELLO2"
	StepAuth       = "AUTH"
	StepUsername   = "USERNAME"
	StepPassword   = "PASSWORD"
	StepMailFrom   = "MAIL_FROM"
	StepVerify     = "VRFY"
	StepRecipients = "RECIPIENTS"
	StepData       = "DATA"
	StepQuit       = "QUIT"
)

// multiSteps record a sequence of replies instead of a single one.
var multiSteps = map[string]bool{
	StepRecipients: true,
	StepData:       true,
}

// Entry is the reply record of one step.
type Entry struct {
	Step      string
	Responses []Response
}

// Multi reports whether the step holds a sequence of replies.
func (e Entry) Multi() bool {
	return multiSteps[e.Step]
}

// Text returns the reply texts of the entry joined with "\n".
func (e Entry) Text() string {
	texts := make([]string, len(e.Responses))
	for i, r := range e.Responses {
		texts[i] = r.Text
	}
	return strings.Join(texts, "\n")
}

// Transcript is the ordered record of the replies of one send attempt. It is
// filled by the session and must be treated as read only once returned.
type Transcript struct {
	id      string
	entries []Entry
	index   map[string]int
}

func newTranscript(id string) *Transcript {
	return &Transcript{id: id, index: make(map[string]int)}
}

// open creates an empty entry for step if none exists yet.
func (t *Transcript) open(step string) {
	if _, ok := t.index[step]; ok {
		return
	}
	t.index[step] = len(t.entries)
	t.entries = append(t.entries, Entry{Step: step})
}

// record appends resp to the entry of step.
func (t *Transcript) record(step string, resp Response) {
	t.open(step)
	i := t.index[step]
	t.entries[i].Responses = append(t.entries[i].Responses, resp)
}

// ID returns the identifier of the send attempt.
func (t *Transcript) ID() string {
	return t.id
}

// Len returns the number of recorded steps.
func (t *Transcript) Len() int {
	return len(t.entries)
}

// Empty reports whether nothing was recorded, which is the case when the
// connection could not be established.
func (t *Transcript) Empty() bool {
	return len(t.entries) == 0
}

// Steps returns the step names in the order they were recorded.
func (t *Transcript) Steps() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Step
	}
	return out
}

// Get returns the reply text of step. Multi-reply steps are joined with "\n".
func (t *Transcript) Get(step string) (string, bool) {
	i, ok := t.index[step]
	if !ok {
		return "", false
	}
	return t.entries[i].Text(), true
}

// Responses returns a copy of the replies recorded for step.
func (t *Transcript) Responses(step string) []Response {
	i, ok := t.index[step]
	if !ok {
		return nil
	}
	out := make([]Response, len(t.entries[i].Responses))
	copy(out, t.entries[i].Responses)
	return out
}

// Code returns the status code of the last reply of step, 0 when absent.
func (t *Transcript) Code(step string) int {
	i, ok := t.index[step]
	if !ok || len(t.entries[i].Responses) == 0 {
		return 0
	}
	rs := t.entries[i].Responses
	return rs[len(rs)-1].Code
}

// Entries returns a copy of every entry in order.
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		rs := make([]Response, len(e.Responses))
		copy(rs, e.Responses)
		out[i] = Entry{Step: e.Step, Responses: rs}
	}
	return out
}

// MarshalJSON encodes the transcript as an ordered object mapping each step
// to its reply text, or to an array of texts for multi-reply steps.
func (t *Transcript) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range t.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Step)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var value any = e.Text()
		if e.Multi() {
			texts := make([]string, len(e.Responses))
			for j, r := range e.Responses {
				texts[j] = r.Text
			}
			value = texts
		}
		vb, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// String renders one "STEP: reply" line per reply.
func (t *Transcript) String() string {
	var b strings.Builder
	for _, e := range t.entries {
		for _, r := range e.Responses {
			b.WriteString(e.Step)
			b.WriteString(": ")
			b.WriteString(strings.ReplaceAll(r.Text, "\n", " | "))
			b.WriteByte('\n')
		}
	}
	return b.String()
}
