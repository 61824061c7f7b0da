package pty

// TitleFilter is a stateful scanner for OSC 0/1/2 window-title escape
// sequences (`ESC ] 0|1|2 ; text BEL` or `ESC ] 0|1|2 ; text ESC \`).
// It is stateful across calls to Process so that a sequence split
// across two PTY output chunks is still recognized.
//
// When Drop is true, recognized title sequences are excised from the
// returned bytes (used for the broadcast path when preventTitleChange
// is set); the raw recording append path should always use the
// unfiltered original chunk, never this filter's output.
type TitleFilter struct {
	Drop bool

	state   oscState
	pending []byte // bytes of the in-progress escape sequence, unemitted
	param   []byte // accumulated Ps digits
	ps      int
	body    []byte // accumulated body text between ';' and the terminator
}

type oscState int

const (
	stNormal oscState = iota
	stESC
	stOSCType
	stBody
	stBodyESC
)

const (
	escByte = 0x1b
	belByte = 0x07
)

// Process scans chunk, returning the bytes to forward downstream and any
// complete title strings observed (regardless of Drop).
func (f *TitleFilter) Process(chunk []byte) (out []byte, titles []string) {
	out = make([]byte, 0, len(chunk))

	for _, b := range chunk {
		switch f.state {
		case stNormal:
			if b == escByte {
				f.state = stESC
				f.pending = append(f.pending[:0], b)
				continue
			}
			out = append(out, b)

		case stESC:
			if b == ']' {
				f.state = stOSCType
				f.pending = append(f.pending, b)
				continue
			}
			// Not an OSC sequence; flush what we buffered plus this byte.
			out = append(out, f.pending...)
			out = append(out, b)
			f.resetSeq()

		case stOSCType:
			f.pending = append(f.pending, b)
			if b >= '0' && b <= '9' {
				f.param = append(f.param, b)
				continue
			}
			if b == ';' {
				f.ps = atoiBytes(f.param)
				f.body = f.body[:0]
				f.state = stBody
				continue
			}
			// Malformed OSC type field; bail out and flush raw.
			out = append(out, f.pending...)
			f.resetSeq()

		case stBody:
			if b == belByte {
				f.pending = append(f.pending, b)
				out = f.finishSeq(out, &titles)
				continue
			}
			if b == escByte {
				f.state = stBodyESC
				f.pending = append(f.pending, b)
				continue
			}
			f.pending = append(f.pending, b)
			f.body = append(f.body, b)

		case stBodyESC:
			f.pending = append(f.pending, b)
			if b == '\\' {
				out = f.finishSeq(out, &titles)
				continue
			}
			// Stray ESC inside the body that wasn't ST; treat the ESC and
			// this byte as ordinary body content and resume.
			f.body = append(f.body, escByte, b)
			f.state = stBody
		}
	}

	return out, titles
}

func (f *TitleFilter) finishSeq(out []byte, titles *[]string) []byte {
	isTitle := f.ps == 0 || f.ps == 1 || f.ps == 2
	if isTitle {
		*titles = append(*titles, string(f.body))
	}
	if !f.Drop || !isTitle {
		out = append(out, f.pending...)
	}
	f.resetSeq()
	return out
}

func (f *TitleFilter) resetSeq() {
	f.state = stNormal
	f.pending = f.pending[:0]
	f.param = f.param[:0]
	f.body = f.body[:0]
	f.ps = 0
}

func atoiBytes(b []byte) int {
	n := 0
	for _, c := range b {
		n = n*10 + int(c-'0')
	}
	return n
}
