//go:build linux

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

var promptHistory []string

// readInteractiveLine reads one text from a raw-mode terminal with basic
// cursor movement and history. Non-terminals get a plain line read.
func readInteractiveLine(prompt string) (string, error) {
	if !stdinIsTTY() {
		return readPlainLine(stdinLines)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	raw := *oldState
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, oldState)
	}()

	ed := &lineEditor{prompt: prompt, out: os.Stdout, histPos: len(promptHistory)}
	fmt.Fprint(ed.out, prompt)

	var buf [16]byte
	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return "", err
		}
		for _, b := range buf[:n] {
			if line, done, err := ed.feed(b); done {
				if err == nil && strings.TrimSpace(line) != "" {
					promptHistory = append(promptHistory, line)
				}
				return line, err
			}
		}
	}
}

type lineEditor struct {
	prompt string
	out    io.Writer
	line   []byte
	cursor int

	esc    int
	escSeq strings.Builder

	histPos   int
	browsing  bool
	histDraft string
}

// feed consumes one input byte. done is set when the line is complete or
// the user asked to quit.
func (e *lineEditor) feed(b byte) (line string, done bool, err error) {
	switch e.esc {
	case 1:
		e.esc = 0
		if b == '[' {
			e.esc = 2
			e.escSeq.Reset()
		}
		return "", false, nil
	case 2:
		e.escSeq.WriteByte(b)
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
			e.csi(e.escSeq.String())
			e.esc = 0
		}
		return "", false, nil
	}

	switch b {
	case 27:
		e.esc = 1
	case '\r', '\n':
		fmt.Fprint(e.out, "\r\n")
		return string(e.line), true, nil
	case 3, 4: // Ctrl+C, Ctrl+D
		if b == 3 || len(e.line) == 0 {
			fmt.Fprint(e.out, "\r\n")
			return "", true, io.EOF
		}
	case 127, 8:
		if e.cursor > 0 {
			e.line = append(e.line[:e.cursor-1], e.line[e.cursor:]...)
			e.cursor--
			e.redraw()
		}
	case 1: // Ctrl+A
		e.cursor = 0
		e.redraw()
	case 5: // Ctrl+E
		e.cursor = len(e.line)
		e.redraw()
	case 21: // Ctrl+U
		e.line = append(e.line[:0], e.line[e.cursor:]...)
		e.cursor = 0
		e.redraw()
	default:
		if b >= 32 {
			e.line = append(e.line, 0)
			copy(e.line[e.cursor+1:], e.line[e.cursor:])
			e.line[e.cursor] = b
			e.cursor++
			e.redraw()
		}
	}
	return "", false, nil
}

func (e *lineEditor) csi(seq string) {
	switch seq {
	case "A":
		if len(promptHistory) == 0 {
			return
		}
		if !e.browsing {
			e.histDraft = string(e.line)
			e.browsing = true
			e.histPos = len(promptHistory)
		}
		if e.histPos > 0 {
			e.histPos--
			e.set(promptHistory[e.histPos])
		}
	case "B":
		if !e.browsing {
			return
		}
		if e.histPos < len(promptHistory)-1 {
			e.histPos++
			e.set(promptHistory[e.histPos])
		} else {
			e.browsing = false
			e.histPos = len(promptHistory)
			e.set(e.histDraft)
		}
	case "C":
		if e.cursor < len(e.line) {
			e.cursor++
			e.redraw()
		}
	case "D":
		if e.cursor > 0 {
			e.cursor--
			e.redraw()
		}
	case "H":
		e.cursor = 0
		e.redraw()
	case "F":
		e.cursor = len(e.line)
		e.redraw()
	case "3~":
		if e.cursor < len(e.line) {
			e.line = append(e.line[:e.cursor], e.line[e.cursor+1:]...)
			e.redraw()
		}
	}
}

func (e *lineEditor) set(s string) {
	e.line = append(e.line[:0], s...)
	e.cursor = len(e.line)
	e.redraw()
}

func (e *lineEditor) redraw() {
	fmt.Fprintf(e.out, "\r%s%s\x1b[K", e.prompt, e.line)
	if e.cursor < len(e.line) {
		fmt.Fprintf(e.out, "\r%s%s", e.prompt, e.line[:e.cursor])
	}
}
