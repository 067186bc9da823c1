// Package pddpm defines the Device Policy Manager (DPM) callback surface
// consumed by the Policy Engine, plus a handful of ready-made policies for
// common power profiles.
//
// The Policy Engine never decides what to request or how to drive
// hardware output; it only asks its DPM. The required callbacks are
// split from the optional ones, and every optional one has a no-op
// default via embedding, so a minimal DPM only implements capability
// evaluation and output control.
package pddpm

import (
	"github.com/gousbpd/sinkstack/pdmsg"
	"github.com/gousbpd/sinkstack/pdphy"
)

// CapabilityEvaluator is called by the Policy Engine every time it
// receives a Source_Capabilities list. If no PDO is acceptable, it must
// return pdmsg.EmptyRequestDO. The passed slice may be modified by the
// DPM but must not be retained past the call.
type CapabilityEvaluator interface {
	EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO
}

// CapabilityEvaluatorFunc adapts an ordinary function to CapabilityEvaluator.
type CapabilityEvaluatorFunc func([]pdmsg.PDO) pdmsg.RequestDO

// EvaluateCapabilities implements CapabilityEvaluator.
func (f CapabilityEvaluatorFunc) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	return f(pdos)
}

// SinkCapabilityProvider is called when the source requests Get_Sink_Cap.
// It must write a complete Sink_Capabilities message, including header,
// into buf.
type SinkCapabilityProvider interface {
	SinkCapability(buf *pdmsg.Buffer)
}

// Transitioner performs the DPM's required physical-output reactions to
// Policy Engine state transitions.
type Transitioner interface {
	// TransitionDefault cuts output back to the port's unconfigured
	// default (5 V/vSafe5V or off), called on any hard reset.
	TransitionDefault() error
	// TransitionStandby is called just before a voltage/current change
	// takes effect (after Accept, before PS_RDY), giving the DPM a chance
	// to prepare for a voltage that may not yet be on the wire.
	TransitionStandby() error
	// TransitionRequested is called once PS_RDY confirms the most recent
	// Request took effect; the DPM should now actually drive its output to
	// whatever it decided during the EvaluateCapabilities call that
	// produced the accepted request.
	TransitionRequested() error
}

// GiveBackAdvisor is optional; if implemented and it returns true, the
// Policy Engine honours GotoMin by calling MinPowerTransitioner instead of
// rejecting it with Not_Supported.
type GiveBackAdvisor interface {
	GiveBackEnabled() bool
}

// TypeCCurrentEvaluator is optional; used only in SourceUnresponsive to
// decide whether a sampled Type-C current advertisement is one the DPM
// wants to act on.
type TypeCCurrentEvaluator interface {
	EvaluateTypeCCurrent(pdphy.TypeCCurrent) (matched bool)
}

// StartNotifier is optional; called once when the Policy Engine enters
// Startup, before any negotiation begins.
type StartNotifier interface {
	Start()
}

// MinPowerTransitioner is optional; called when GotoMin is accepted under
// GiveBack.
type MinPowerTransitioner interface {
	TransitionMin() error
}

// TypeCTransitioner is optional; called from SourceUnresponsive once two
// consecutive Type-C current samples agree and EvaluateTypeCCurrent
// matched.
type TypeCTransitioner interface {
	TransitionTypeC() error
}

// NotSupportedNotifier is optional; called when the source sends
// Not_Supported in response to something the Policy Engine sent.
type NotSupportedNotifier interface {
	NotSupportedReceived()
}

// DPM is the complete callback surface the Policy Engine drives. Required
// methods have no default; optional ones are satisfied by embedding
// DefaultCallbacks.
type DPM interface {
	CapabilityEvaluator
	SinkCapabilityProvider
	Transitioner
	GiveBackAdvisor
	TypeCCurrentEvaluator
	StartNotifier
	MinPowerTransitioner
	TypeCTransitioner
	NotSupportedNotifier
}

// DefaultCallbacks implements every optional DPM method as a no-op
// returning "not supported" (false / nil). Embed this in a concrete DPM
// type and override only the methods that matter.
type DefaultCallbacks struct{}

// GiveBackEnabled implements GiveBackAdvisor, defaulting to disabled.
func (DefaultCallbacks) GiveBackEnabled() bool { return false }

// EvaluateTypeCCurrent implements TypeCCurrentEvaluator, defaulting to
// never matching (the port stays at vSafe5V indefinitely).
func (DefaultCallbacks) EvaluateTypeCCurrent(pdphy.TypeCCurrent) bool { return false }

// Start implements StartNotifier as a no-op.
func (DefaultCallbacks) Start() {}

// TransitionMin implements MinPowerTransitioner as a no-op.
func (DefaultCallbacks) TransitionMin() error { return nil }

// TransitionTypeC implements TypeCTransitioner as a no-op.
func (DefaultCallbacks) TransitionTypeC() error { return nil }

// NotSupportedReceived implements NotSupportedNotifier as a no-op.
func (DefaultCallbacks) NotSupportedReceived() {}
