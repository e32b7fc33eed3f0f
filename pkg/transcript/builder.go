// Package transcript aggregates classified stream events into an ordered list
// of collapsible sections within one agent turn.
package transcript

import (
	"github.com/google/uuid"

	"github.com/navaai/relay/pkg/stream"
)

// Fixed section titles. The output section is the only one whose title changes
// after creation: it flips to TitleOutputDone when the end marker arrives.
const (
	TitleTools      = "Tools"
	TitleError      = "Error"
	TitleOutput     = "Generating Output"
	TitleOutputDone = "Output Complete"

	snippetLen = 40
)

// Section is a contiguous run of same-category log lines, independently
// collapsible in the transcript view.
type Section struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Content []string    `json:"content"`
	IsOpen  bool        `json:"isOpen"`
	Type    stream.Kind `json:"type"`
}

// Builder maintains the section list for one agent message. At most the last
// section is appendable; a new section starts whenever the event kind changes,
// or an explicit new-thought marker arrives.
type Builder struct {
	sections  []Section
	outputIdx int // index of the open output section, -1 when none
}

// NewBuilder creates an empty Builder for a fresh agent turn.
func NewBuilder() *Builder {
	return &Builder{outputIdx: -1}
}

// Add applies one classified event to the section list.
func (b *Builder) Add(ev stream.Event) {
	switch {
	case ev.OutputStart:
		b.sections = append(b.sections, Section{
			ID:      uuid.NewString(),
			Title:   TitleOutput,
			Content: []string{},
			IsOpen:  false,
			Type:    stream.KindInfo,
		})
		b.outputIdx = len(b.sections) - 1
		return

	case ev.OutputEnd:
		if b.outputIdx >= 0 {
			b.sections[b.outputIdx].Title = TitleOutputDone
			b.outputIdx = -1
		}
		return

	case ev.Output:
		if b.outputIdx >= 0 {
			b.sections[b.outputIdx].Content = append(b.sections[b.outputIdx].Content, ev.Text)
			return
		}
		// Stray output line outside a block: fall through as plain info.
	}

	if b.canAppend(ev) {
		last := &b.sections[len(b.sections)-1]
		last.Content = append(last.Content, ev.Text)
		return
	}

	b.sections = append(b.sections, Section{
		ID:      uuid.NewString(),
		Title:   titleFor(ev),
		Content: []string{ev.Text},
		IsOpen:  ev.Kind == stream.KindThought,
		Type:    ev.Kind,
	})
}

// canAppend reports whether the event merges into the last section: same kind,
// the last section is not a closed output block, and for thoughts the event is
// not an explicit new-thought marker.
func (b *Builder) canAppend(ev stream.Event) bool {
	if len(b.sections) == 0 {
		return false
	}
	last := len(b.sections) - 1
	if b.sections[last].Title == TitleOutput || b.sections[last].Title == TitleOutputDone {
		return false
	}
	if b.sections[last].Type != ev.Kind {
		return false
	}
	if ev.Kind == stream.KindThought && ev.NewThought {
		return false
	}
	return true
}

// Output returns the accumulated output block content joined as lines, and
// whether an output block was seen.
func (b *Builder) Output() ([]string, bool) {
	for i := len(b.sections) - 1; i >= 0; i-- {
		if b.sections[i].Title == TitleOutput || b.sections[i].Title == TitleOutputDone {
			out := make([]string, len(b.sections[i].Content))
			copy(out, b.sections[i].Content)
			return out, true
		}
	}
	return nil, false
}

// Sections returns a copy of the current section list.
func (b *Builder) Sections() []Section {
	out := make([]Section, len(b.sections))
	copy(out, b.sections)
	for i := range out {
		content := make([]string, len(b.sections[i].Content))
		copy(content, b.sections[i].Content)
		out[i].Content = content
	}
	return out
}

// Len returns the number of sections built so far.
func (b *Builder) Len() int {
	return len(b.sections)
}

func titleFor(ev stream.Event) string {
	switch ev.Kind {
	case stream.KindTool:
		return TitleTools
	case stream.KindError:
		return TitleError
	}
	return snippet(ev.Text)
}

// snippet truncates text to a short display title.
func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLen {
		return text
	}
	return string(runes[:snippetLen])
}
