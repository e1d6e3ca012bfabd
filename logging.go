package microtcp

import (
	"log/slog"

	"github.com/Angelos-Dimoglis/microTCP/internal"
	"github.com/Angelos-Dimoglis/microTCP/segment"
)

type logger struct {
	log *slog.Logger
}

func (e *Endpoint) logenabled(lvl slog.Level) bool {
	return internal.LogEnabled(e.log, lvl)
}

func (e *Endpoint) logattrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	internal.LogAttrs(e.log, lvl, msg, attrs...)
}

func (e *Endpoint) debug(msg string, attrs ...slog.Attr) {
	e.logattrs(slog.LevelDebug, msg, attrs...)
}

func (e *Endpoint) trace(msg string, attrs ...slog.Attr) {
	e.logattrs(internal.LevelTrace, msg, attrs...)
}

func (e *Endpoint) logerr(msg string, attrs ...slog.Attr) {
	e.logattrs(slog.LevelError, msg, attrs...)
}

func (e *Endpoint) traceSeg(msg string, hdr segment.Header) {
	if e.logenabled(internal.LevelTrace) {
		e.trace(msg,
			slog.String("state", e.state.String()),
			slog.Uint64("seg.seq", uint64(hdr.Seq)),
			slog.Uint64("seg.ack", uint64(hdr.Ack)),
			slog.String("seg.flags", hdr.Flags.String()),
			slog.Uint64("seg.data", uint64(hdr.DataLen)),
		)
	}
}
