package pddpm

import "github.com/gousbpd/sinkstack/pdmsg"

// OutputController is the physical-output half of a DPM: the part that
// actually turns a negotiated voltage/current into hardware state. Policy
// delegates every Transitioner call to it.
type OutputController interface {
	// SetOutput drives the port's output to voltageMV/currentMA.
	SetOutput(voltageMV, currentMA uint16) error
	// DisableOutput cuts the port's output back to its unconfigured
	// default.
	DisableOutput() error
}

// Policy combines a PowerPolicy (what to request) with an
// OutputController (how to act on the result) into a complete DPM. It
// embeds DefaultCallbacks so every optional method defaults to
// "unsupported" until overridden by wrapping Policy in a type that adds
// its own method of the same name.
type Policy struct {
	DefaultCallbacks

	Eval   PowerPolicy
	Output OutputController

	// SinkMaxPowerMW is advertised in Sink_Capabilities as this port's own
	// maximum power draw. Zero advertises a 5V/0A sink (no power
	// consumption of its own), which is the common case for a board whose
	// sink port only ever supplies downstream loads from VBUS.
	SinkMaxPowerMW uint16

	lastVoltageMV, lastCurrentMA uint16
	lastMismatch                 bool
}

// Validate delegates to the wrapped PowerPolicy.
func (p *Policy) Validate() error {
	return p.Eval.Validate()
}

// EvaluateCapabilities delegates to the wrapped PowerPolicy and caches its
// verdict: on a match, the selected voltage/current for TransitionRequested
// to apply; on no match, the mismatch itself, so a contract concluded on
// the engine's mismatch-flagged fallback Request keeps the output off. A
// stale selection from an earlier successful round must never survive a
// failed re-evaluation.
func (p *Policy) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	rdo := p.Eval.EvaluateCapabilities(pdos)
	p.lastMismatch = true
	if rdo == pdmsg.EmptyRequestDO {
		return rdo
	}
	pos := int(rdo.SelectedObjectPosition())
	if pos < 1 || pos > len(pdos) {
		return rdo
	}
	switch pdo := pdos[pos-1]; pdo.Type() {
	case pdmsg.PDOTypeFixedSupply:
		p.lastVoltageMV = pdmsg.FixedSupplyPDO(pdo).Voltage()
		p.lastCurrentMA = rdo.FixedOperatingCurrent()
		p.lastMismatch = false
	case pdmsg.PDOTypePPS:
		p.lastVoltageMV = rdo.PPSOutputVoltage()
		p.lastCurrentMA = rdo.PPSOutputCurrent()
		p.lastMismatch = false
	}
	return rdo
}

// SinkCapability implements SinkCapabilityProvider, advertising a single
// fixed 5V PDO whose current corresponds to SinkMaxPowerMW.
func (p *Policy) SinkCapability(buf *pdmsg.Buffer) {
	var h pdmsg.Header
	h.SetType(pdmsg.TypeSinkCap)
	h.SetDataObjectCount(1)
	buf.SetHeader(h)

	var fixed pdmsg.FixedSupplyPDO
	fixed.SetVoltage(5000)
	if p.SinkMaxPowerMW > 0 {
		fixed.SetMaxCurrent(uint16(uint32(p.SinkMaxPowerMW) * 1000 / 5000))
	}
	buf.SetDataObject(0, uint32(fixed))
}

// TransitionDefault implements Transitioner by disabling the output.
func (p *Policy) TransitionDefault() error {
	if p.Output == nil {
		return nil
	}
	return p.Output.DisableOutput()
}

// TransitionStandby implements Transitioner by disabling the output ahead
// of a voltage change that has not yet been confirmed by PS_RDY.
func (p *Policy) TransitionStandby() error {
	if p.Output == nil {
		return nil
	}
	return p.Output.DisableOutput()
}

// TransitionRequested implements Transitioner by driving the output to
// whatever EvaluateCapabilities last selected, or keeping it off when the
// last evaluation found no acceptable profile (the contract in force is
// then the mismatch-flagged fallback Request, not a usable selection).
func (p *Policy) TransitionRequested() error {
	if p.Output == nil {
		return nil
	}
	if p.lastMismatch {
		return p.Output.DisableOutput()
	}
	return p.Output.SetOutput(p.lastVoltageMV, p.lastCurrentMA)
}
