package breaker

import "strings"

// FenceState describes whether text is inside a fenced code block.
type FenceState struct {
	Open bool
	// Marker is the fence run that opened the block ("```", "~~~~").
	Marker string
	// Opener is the full opening line, including any info string.
	Opener string
}

// ScanFence returns the fence state at the end of buf, starting closed.
func ScanFence(buf string) FenceState {
	return FenceAt(buf, FenceState{}, len(buf))
}

// FenceAt returns the fence state at byte offset at of buf, given the
// state at offset zero. A fence line only takes effect once it is
// complete, so an offset in the middle of an opener is still outside.
func FenceAt(buf string, start FenceState, at int) FenceState {
	if at > len(buf) {
		at = len(buf)
	}
	state := start
	pos := 0
	for pos < at {
		end := strings.IndexByte(buf[pos:], '\n')
		if end < 0 || pos+end >= at {
			// Unterminated line: count an opener typed so far only when
			// it sits at the very end of the buffer.
			if at == len(buf) {
				state = state.scan(buf[pos:at])
			}
			break
		}
		state = state.scan(buf[pos : pos+end])
		pos += end + 1
	}
	return state
}

// scan returns the state after a single line.
func (f FenceState) scan(line string) FenceState {
	marker, info, ok := parseFence(line)
	if !ok {
		return f
	}
	if !f.Open {
		return FenceState{Open: true, Marker: marker, Opener: strings.TrimSpace(line)}
	}
	// A closer uses the opener's character, is at least as long and
	// carries no info string.
	if marker[0] == f.Marker[0] && len(marker) >= len(f.Marker) && info == "" {
		return FenceState{}
	}
	return f
}

// isFenceLine reports whether line opens or closes a fence.
func isFenceLine(line string) bool {
	_, _, ok := parseFence(line)
	return ok
}

// parseFence recognises a fence line: up to three spaces of indentation,
// then three or more backticks or tildes.
func parseFence(line string) (marker, info string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 || len(trimmed) < 3 {
		return "", "", false
	}
	c := trimmed[0]
	if c != '`' && c != '~' {
		return "", "", false
	}
	n := 0
	for n < len(trimmed) && trimmed[n] == c {
		n++
	}
	if n < 3 {
		return "", "", false
	}
	info = strings.TrimSpace(trimmed[n:])
	if c == '`' && strings.ContainsRune(info, '`') {
		return "", "", false
	}
	return trimmed[:n], info, true
}
