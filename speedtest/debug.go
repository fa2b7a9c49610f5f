package speedtest

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

type Debug struct {
	dbg  *log.Logger
	flag atomic.Bool
}

func NewDebug() *Debug {
	return &Debug{dbg: log.New(os.Stderr, "[DBG] ", log.Ldate|log.Ltime|log.Lmicroseconds)}
}

func (d *Debug) Enable() {
	d.flag.Store(true)
}

func (d *Debug) SetOutput(w io.Writer) {
	d.dbg.SetOutput(w)
}

func (d *Debug) Println(v ...any) {
	if d.flag.Load() {
		d.dbg.Println(v...)
	}
}

func (d *Debug) Printf(format string, v ...any) {
	if d.flag.Load() {
		d.dbg.Printf(format, v...)
	}
}

var dbg = NewDebug()

// EnableDebug turns on diagnostic logging for the whole package.
func EnableDebug() {
	dbg.Enable()
}

// SetDebugOutput redirects the package debug logger.
func SetDebugOutput(w io.Writer) {
	dbg.SetOutput(w)
}
