package pddpm

import (
	"fmt"
	"io"

	"github.com/gousbpd/sinkstack/pdmsg"
	"github.com/gousbpd/sinkstack/pdphy"
)

// Logger is a passthrough DPM that writes a textual description of
// received source capabilities to an io.Writer before forwarding every
// call to a wrapped base DPM. If base is nil, it behaves like a DPM that
// accepts nothing and drives no output, useful for dry-run capability
// dumps.
type Logger struct {
	w    io.Writer
	sep  string
	base DPM
}

// NewLogger creates a Logger writing to w, using lineSep ("\n", "\r\n",
// ...) between lines, optionally wrapping base.
func NewLogger(w io.Writer, lineSep string, base DPM) *Logger {
	return &Logger{w: w, sep: lineSep, base: base}
}

// EvaluateCapabilities logs every PDO's kind and value, then delegates.
func (l *Logger) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	fmt.Fprintf(l.w, "received %d profiles:%s", len(pdos), l.sep)
	for i, p := range pdos {
		fmt.Fprintf(l.w, "  %d) ", i+1)
		switch p.Type() {
		case pdmsg.PDOTypeFixedSupply:
			fs := pdmsg.FixedSupplyPDO(p)
			fmt.Fprintf(l.w, "fixed %.1fV @ max %.1fA", float32(fs.Voltage())/1000, float32(fs.MaxCurrent())/1000)
		case pdmsg.PDOTypeVariableSupply:
			v := pdmsg.VariablePDO(p)
			fmt.Fprintf(l.w, "variable %.1f-%.1fV @ max %.1fA", float32(v.MinVoltage())/1000, float32(v.MaxVoltage())/1000, float32(v.MaxCurrent())/1000)
		case pdmsg.PDOTypePPS:
			pps := pdmsg.PPSPDO(p)
			var limited string
			if pps.IsPowerLimited() {
				limited = " (power limited)"
			}
			fmt.Fprintf(l.w, "programmable %.1f-%.1fV @ max %.1fA%s",
				float32(pps.MinVoltage())/1000, float32(pps.MaxVoltage())/1000, float32(pps.MaxCurrent())/1000, limited)
		case pdmsg.PDOTypeBattery:
			b := pdmsg.BatteryPDO(p)
			fmt.Fprintf(l.w, "battery %.1f-%.1fV @ max %.1fW", float32(b.MinVoltage())/1000, float32(b.MaxVoltage())/1000, float32(b.MaxPower())/1000)
		case pdmsg.PDOTypeEPRAVS:
			fmt.Fprint(l.w, "EPR AVS (not supported)")
		default:
			fmt.Fprint(l.w, "invalid")
		}
		fmt.Fprint(l.w, l.sep)
	}
	if l.base != nil {
		return l.base.EvaluateCapabilities(pdos)
	}
	return pdmsg.EmptyRequestDO
}

// SinkCapability delegates to base, or writes an empty Sink_Capabilities
// message if there is none.
func (l *Logger) SinkCapability(buf *pdmsg.Buffer) {
	if l.base != nil {
		l.base.SinkCapability(buf)
		return
	}
	var h pdmsg.Header
	h.SetType(pdmsg.TypeSinkCap)
	buf.SetHeader(h)
}

// TransitionDefault logs and delegates to base.
func (l *Logger) TransitionDefault() error {
	fmt.Fprintf(l.w, "transition: default%s", l.sep)
	if l.base != nil {
		return l.base.TransitionDefault()
	}
	return nil
}

// TransitionStandby logs and delegates to base.
func (l *Logger) TransitionStandby() error {
	fmt.Fprintf(l.w, "transition: standby%s", l.sep)
	if l.base != nil {
		return l.base.TransitionStandby()
	}
	return nil
}

// TransitionRequested logs and delegates to base.
func (l *Logger) TransitionRequested() error {
	fmt.Fprintf(l.w, "transition: requested%s", l.sep)
	if l.base != nil {
		return l.base.TransitionRequested()
	}
	return nil
}

// GiveBackEnabled delegates to base, defaulting to false.
func (l *Logger) GiveBackEnabled() bool {
	return l.base != nil && l.base.GiveBackEnabled()
}

// EvaluateTypeCCurrent delegates to base, defaulting to false.
func (l *Logger) EvaluateTypeCCurrent(tcc pdphy.TypeCCurrent) bool {
	return l.base != nil && l.base.EvaluateTypeCCurrent(tcc)
}

// Start logs and delegates to base.
func (l *Logger) Start() {
	fmt.Fprintf(l.w, "policy engine started%s", l.sep)
	if l.base != nil {
		l.base.Start()
	}
}

// TransitionMin delegates to base.
func (l *Logger) TransitionMin() error {
	fmt.Fprintf(l.w, "transition: min%s", l.sep)
	if l.base != nil {
		return l.base.TransitionMin()
	}
	return nil
}

// TransitionTypeC delegates to base.
func (l *Logger) TransitionTypeC() error {
	fmt.Fprintf(l.w, "transition: type-c fallback%s", l.sep)
	if l.base != nil {
		return l.base.TransitionTypeC()
	}
	return nil
}

// NotSupportedReceived logs and delegates to base.
func (l *Logger) NotSupportedReceived() {
	fmt.Fprintf(l.w, "partner sent not_supported%s", l.sep)
	if l.base != nil {
		l.base.NotSupportedReceived()
	}
}
