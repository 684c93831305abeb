package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/kstaniek/go-n2k/internal/n2k"
	"github.com/kstaniek/go-n2k/internal/tp"
)

var (
	singleColor = color.New(color.FgGreen)
	cmColor     = color.New(color.FgCyan, color.Bold)
	dtColor     = color.New(color.FgYellow)
	pgnColor    = color.New(color.FgMagenta)
)

// dumpFrames prints the frames msg is segmented into, one per line.
func dumpFrames(w io.Writer, msg n2k.Message, opts ...tp.Option) {
	for f := range tp.Segment(msg, opts...) {
		kind, c := "single", singleColor
		if tp.IsTransport(f) {
			kind, c = "tp.dt", dtColor
			if _, err := tp.ParseAnnounce(f); err == nil {
				kind, c = "tp.cm", cmColor
			}
		}
		c.Fprintf(w, "%-6s", kind)
		fmt.Fprintf(w, " %08X [%d] % X\n", f.ID(), f.DLC(), f.Payload())
	}
}

// monitor prints every dispatched message.
type monitor struct {
	w io.Writer
}

func (m *monitor) Handle(msg n2k.Message) {
	id := msg.ID()
	fmt.Fprintf(m.w, "%s prio=%d ", time.Now().Format("15:04:05.000"), id.Priority())
	pgnColor.Fprintf(m.w, "pgn=%d", id.PGN())
	fmt.Fprintf(m.w, " src=%d dst=%d [%d] % X\n", id.Source(), id.Destination(), msg.Len(), msg.Data())
}
