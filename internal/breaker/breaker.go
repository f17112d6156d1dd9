// Package breaker decides where a growing stream of assistant text is split
// into separate chat posts.
//
// A break becomes eligible once the buffer passes the soft limit (or the
// line limit) and mandatory once it passes the hard limit. Breaks are only
// placed outside fenced code blocks; past the hard limit a fence may be cut,
// in which case the chunk gets a closing fence and the remainder reopens it.
package breaker

import (
	"strings"
	"unicode/utf8"
)

// Kind is the kind of break decided.
type Kind int

const (
	// None means keep buffering.
	None Kind = iota
	// Soft is a break at a paragraph, sentence or line boundary.
	Soft
	// Hard is a mandatory break, possibly mid-sentence or inside a fence.
	Hard
)

func (k Kind) String() string {
	switch k {
	case Soft:
		return "soft"
	case Hard:
		return "hard"
	default:
		return "none"
	}
}

// Thresholds configure when breaks become eligible and mandatory.
type Thresholds struct {
	SoftLimit int
	HardLimit int
	MaxLines  int
}

// DefaultThresholds returns thresholds that fit common chat renderers.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SoftLimit: 2000,
		HardLimit: 3800,
		MaxLines:  60,
	}
}

// Decision is the outcome of Decide.
type Decision struct {
	Kind Kind
	// At is the byte offset where the buffer is split. Zero when Kind is None.
	At int
	// CloseFence is set when At falls inside an open fence.
	CloseFence bool
	// Marker closes the fence in the chunk; Reopen is prepended to the rest.
	Marker string
	Reopen string
}

// Breaker applies Thresholds to text buffers. It holds no other state.
type Breaker struct {
	t Thresholds
}

// New returns a Breaker. Zero fields fall back to DefaultThresholds.
func New(t Thresholds) *Breaker {
	def := DefaultThresholds()
	if t.SoftLimit <= 0 {
		t.SoftLimit = def.SoftLimit
	}
	if t.HardLimit <= 0 {
		t.HardLimit = def.HardLimit
	}
	if t.HardLimit < t.SoftLimit {
		t.HardLimit = t.SoftLimit
	}
	if t.MaxLines <= 0 {
		t.MaxLines = def.MaxLines
	}
	return &Breaker{t: t}
}

// Thresholds returns the effective thresholds.
func (b *Breaker) Thresholds() Thresholds { return b.t }

// candidate is a position where the fence is closed.
type candidate struct {
	at       int
	priority int // 3 paragraph, 2 sentence, 1 line
	line     int // lines before at
}

// Decide inspects buf, whose first byte is in fence state start, and
// returns where to break it.
func (b *Breaker) Decide(buf string, start FenceState) Decision {
	n := len(buf)
	lines := strings.Count(buf, "\n")
	overHard := n > b.t.HardLimit
	overLines := lines > b.t.MaxLines

	if n <= b.t.SoftLimit && !overLines {
		return Decision{Kind: None}
	}

	limit := n
	if limit > b.t.HardLimit {
		limit = b.t.HardLimit
	}

	if c, ok := b.best(buf, start, limit); ok {
		kind := Soft
		if overHard || overLines {
			kind = Hard
		}
		return Decision{Kind: kind, At: c.at}
	}

	if !overHard {
		// Only fenced positions available; wait for the fence to close.
		return Decision{Kind: None}
	}
	return b.forced(buf, start)
}

// best returns the boundary at or before limit that lies outside any
// fence. Paragraph beats sentence beats line; among equals the latest
// wins. Boundaries past half the soft limit are preferred so an early
// blank line does not produce a tiny post. When the line limit is
// exceeded, only boundaries within MaxLines qualify.
func (b *Breaker) best(buf string, start FenceState, limit int) (candidate, bool) {
	minChunk := b.t.SoftLimit / 2
	var late, early candidate
	haveLate, haveEarly := false, false
	better := func(c, than candidate) bool {
		return c.priority > than.priority || c.priority == than.priority && c.at > than.at
	}
	consider := func(c candidate) {
		if c.at <= 0 || c.at > limit || c.line > b.t.MaxLines {
			return
		}
		if c.at >= minChunk {
			if !haveLate || better(c, late) {
				late, haveLate = c, true
			}
			return
		}
		if !haveEarly || better(c, early) {
			early, haveEarly = c, true
		}
	}

	state := start
	pos := 0
	line := 0
	for pos < len(buf) {
		end := strings.IndexByte(buf[pos:], '\n')
		lineEnd := len(buf)
		if end >= 0 {
			lineEnd = pos + end
		}
		text := buf[pos:lineEnd]
		inside := state.Open
		next := state.scan(text)

		if !inside && !isFenceLine(text) {
			for _, at := range sentenceEnds(text) {
				consider(candidate{at: pos + at, priority: 2, line: line})
			}
		}

		if end < 0 {
			break
		}
		line++
		pos = lineEnd + 1
		state = next
		if !state.Open {
			prio := 1
			if strings.TrimSpace(text) == "" && pos > 1 {
				prio = 3
			}
			consider(candidate{at: pos, priority: prio, line: line})
		}
	}
	if haveLate {
		return late, true
	}
	return early, haveEarly
}

// forced cuts at the hard limit, preferring a line or word boundary in
// the upper half, and closes an open fence if the cut needs it.
func (b *Breaker) forced(buf string, start FenceState) Decision {
	limit := b.t.HardLimit
	at := limit
	if i := strings.LastIndexByte(buf[:limit], '\n'); i >= limit/2 {
		at = i + 1
	} else if i := strings.LastIndexAny(buf[:limit], " \t"); i >= limit/2 {
		at = i + 1
	}
	for at > 0 && !utf8.RuneStart(buf[at]) {
		at--
	}
	if at == 0 {
		at = limit
	}

	d := Decision{Kind: Hard, At: at}
	if fs := FenceAt(buf, start, at); fs.Open {
		d.CloseFence = true
		d.Marker = fs.Marker
		d.Reopen = fs.Opener
	}
	return d
}

// Split applies d to buf and returns the chunk to post and the text to
// keep buffering.
func Split(buf string, d Decision) (chunk, rest string) {
	if d.Kind == None || d.At <= 0 {
		return "", buf
	}
	at := d.At
	if at > len(buf) {
		at = len(buf)
	}
	chunk, rest = buf[:at], buf[at:]

	if d.CloseFence {
		if !strings.HasSuffix(chunk, "\n") {
			chunk += "\n"
		}
		chunk += d.Marker
		rest = d.Reopen + "\n" + rest
		return chunk, rest
	}
	return strings.TrimRight(chunk, " \t\n"), strings.TrimLeft(rest, "\n")
}

// sentenceEnds returns offsets just past ". ", "! " and "? " in a line.
func sentenceEnds(line string) []int {
	var out []int
	for i := 0; i+1 < len(line); i++ {
		switch line[i] {
		case '.', '!', '?':
			if line[i+1] == ' ' {
				out = append(out, i+2)
			}
		}
	}
	return out
}
