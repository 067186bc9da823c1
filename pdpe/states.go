package pdpe

import (
	"context"
	"time"

	"github.com/gousbpd/sinkstack/pdevent"
	"github.com/gousbpd/sinkstack/pdmsg"
)

// state is a Policy Engine state: Enter runs once on entry and may
// resolve the next state immediately (most of the
// allocate-send-arbitrate states do this entirely inside Enter); states
// that must sit blocked reacting to more than one possible event supply
// Wait (the bit mask and timeout to block on) and Process (what to do
// with whichever bit or timeout woke the engine).
type state struct {
	Name    string
	Enter   func(ctx context.Context, pe *PolicyEngine) (*state, error)
	Wait    func(pe *PolicyEngine) (pdevent.Bits, time.Duration)
	Process func(ctx context.Context, pe *PolicyEngine, bits pdevent.Bits, buf *pdmsg.Buffer, timedOut bool) (*state, error)
}

var (
	stateStartup              *state
	stateDiscovery            *state
	stateWaitCap              *state
	stateEvalCap              *state
	stateSelectCap            *state
	stateTransitionSink       *state
	stateReady                *state
	stateGetSourceCap         *state
	stateGiveSinkCap          *state
	stateHardReset            *state
	stateTransitionDefault    *state
	stateSoftReset            *state
	stateSendSoftReset        *state
	stateSendNotSupported     *state
	stateChunkReceived        *state
	stateNotSupportedReceived *state
	stateSourceUnresponsive   *state
)

func init() {
	// Initialized here, not at var-declaration time, to avoid circular
	// references between states.

	stateStartup = &state{
		Name: "Startup",
		Enter: func(ctx context.Context, pe *PolicyEngine) (*state, error) {
			pe.explicitContract = false
			pe.revSet = false
			pe.DPM.Start()
			return stateDiscovery, nil
		},
	}

	stateDiscovery = &state{
		Name: "Discovery",
		Enter: func(ctx context.Context, pe *PolicyEngine) (*state, error) {
			return stateWaitCap, nil
		},
	}

	stateWaitCap = &state{
		Name: "WaitCap",
		Wait: func(pe *PolicyEngine) (pdevent.Bits, time.Duration) {
			return pdevent.PEMsgRx | pdevent.PEOverTemp | pdevent.PEPeReset, pe.Config.TypeCSinkWaitCap
		},
		Process: func(ctx context.Context, pe *PolicyEngine, bits pdevent.Bits, buf *pdmsg.Buffer, timedOut bool) (*state, error) {
			if timedOut {
				return stateHardReset, nil
			}
			if bits&pdevent.PEPeReset != 0 {
				return stateTransitionDefault, nil
			}
			if bits&pdevent.PEOverTemp != 0 {
				return stateWaitCap, nil
			}
			if buf == nil {
				return nil, nil
			}
			h := buf.Header()
			switch {
			case h.IsData() && h.Type() == pdmsg.TypeSourceCap:
				pe.pendingSourceCapBuf = buf
				return stateEvalCap, nil
			case !h.IsData() && h.Type() == pdmsg.TypeSoftReset:
				pe.Pool.Free(buf)
				return stateSoftReset, nil
			default:
				pe.Pool.Free(buf)
				return stateHardReset, nil
			}
		},
	}

	stateEvalCap = &state{
		Name: "EvalCap",
		Enter: func(ctx context.Context, pe *PolicyEngine) (*state, error) {
			// Compute last_pps from the OLD request/capabilities before
			// either is overwritten below (store-then-overwrite ordering,
			// see DESIGN.md).
			pe.lastPPS = 8
			if pos := pe.requestDO.SelectedObjectPosition(); pe.requestDO != pdmsg.EmptyRequestDO &&
				pos >= 1 && int(pos) <= pe.sourceCapCount &&
				pe.sourceCapPDOs[pos-1].Type() == pdmsg.PDOTypePPS {
				pe.lastPPS = pos
			}

			if buf := pe.pendingSourceCapBuf; buf != nil {
				n := int(buf.Header().DataObjectCount())
				for i := 0; i < n; i++ {
					pe.sourceCapPDOs[i] = buf.PDO(i)
				}
				pe.sourceCapCount = n

				if !pe.revSet {
					if buf.Header().SpecRevision() >= pdmsg.Revision30 {
						pe.rev = pdmsg.Revision30
					} else {
						pe.rev = pdmsg.Revision20
					}
					pe.revSet = true
				}

				pe.Pool.Free(buf)
				pe.pendingSourceCapBuf = nil

				pe.ppsIndex = 8
				for i := 0; i < pe.sourceCapCount; i++ {
					if pe.sourceCapPDOs[i].Type() == pdmsg.PDOTypePPS {
						pe.ppsIndex = uint8(i + 1)
						break
					}
				}
			}
			// else: NewPower re-evaluation with no fresh capabilities;
			// evaluate against whatever is already cached, per the DPM
			// contract's "null capabilities pointer means reuse the last
			// ones".

			pe.requestDO = pe.DPM.EvaluateCapabilities(pe.sourceCapPDOs[:pe.sourceCapCount])
			return stateSelectCap, nil
		},
	}

	stateSelectCap = &state{
		Name: "SelectCap",
		Enter: func(ctx context.Context, pe *PolicyEngine) (*state, error) {
			rdo := pe.requestDO
			if rdo == pdmsg.EmptyRequestDO {
				rdo = defaultRequestDO
				pe.requestDO = rdo
			}

			buf, err := pe.Pool.Alloc()
			if err != nil {
				return nil, err
			}
			buf.SetHeader(pe.newHeader(pdmsg.TypeRequest, 1))
			buf.SetDataObject(0, uint32(rdo))

			done, _, peReset, err := pe.transmitAndAwait(ctx, buf)
			if err != nil {
				return nil, err
			}
			if peReset {
				return stateTransitionDefault, nil
			}
			if !done {
				return stateHardReset, nil
			}

			pos := rdo.SelectedObjectPosition()
			if pe.rev == pdmsg.Revision30 && pe.ppsIndex != 8 && pos >= pe.ppsIndex {
				pe.armPPSTimer()
			} else {
				pe.cancelPPSTimer()
			}

			bits, timedOut, err := pe.wait(ctx, pdevent.PEMsgRx|pdevent.PEPeReset, pe.Config.SenderResponse)
			if err != nil {
				return nil, err
			}
			if timedOut {
				return stateHardReset, nil
			}
			if bits&pdevent.PEPeReset != 0 {
				return stateTransitionDefault, nil
			}

			buf2 := pe.popMessage()
			if buf2 == nil {
				return stateHardReset, nil
			}
			h := buf2.Header()
			switch {
			case !h.IsData() && h.Type() == pdmsg.TypeAccept:
				pe.Pool.Free(buf2)
				if pos != pe.lastPPS {
					if err := pe.DPM.TransitionStandby(); err != nil {
						return nil, err
					}
				}
				pe.minPower = false
				return stateTransitionSink, nil
			case !h.IsData() && h.Type() == pdmsg.TypeSoftReset:
				pe.Pool.Free(buf2)
				return stateSoftReset, nil
			case !h.IsData() && (h.Type() == pdmsg.TypeReject || h.Type() == pdmsg.TypeWait):
				waiting := h.Type() == pdmsg.TypeWait
				pe.Pool.Free(buf2)
				pe.minPower = waiting
				if !pe.explicitContract {
					return stateWaitCap, nil
				}
				return stateReady, nil
			default:
				pe.Pool.Free(buf2)
				return stateSendSoftReset, nil
			}
		},
	}

	stateTransitionSink = &state{
		Name: "TransitionSink",
		Wait: func(pe *PolicyEngine) (pdevent.Bits, time.Duration) {
			return pdevent.PEMsgRx | pdevent.PEPeReset, pe.Config.PSTransition
		},
		Process: func(ctx context.Context, pe *PolicyEngine, bits pdevent.Bits, buf *pdmsg.Buffer, timedOut bool) (*state, error) {
			if timedOut {
				return stateHardReset, nil
			}
			if bits&pdevent.PEPeReset != 0 {
				return stateTransitionDefault, nil
			}
			if buf == nil {
				return nil, nil
			}
			h := buf.Header()
			if !h.IsData() && h.Type() == pdmsg.TypePSReady {
				pe.Pool.Free(buf)
				pe.explicitContract = true
				pe.hardResetCounter = 0
				if !pe.minPower {
					if err := pe.DPM.TransitionRequested(); err != nil {
						return nil, err
					}
				}
				return stateReady, nil
			}
			pe.Pool.Free(buf)
			if err := pe.DPM.TransitionDefault(); err != nil {
				return nil, err
			}
			return stateHardReset, nil
		},
	}

	stateReady = &state{
		Name: "Ready",
		Wait: func(pe *PolicyEngine) (pdevent.Bits, time.Duration) {
			mask := pdevent.PEMsgRx | pdevent.PEPeReset | pdevent.PEOverTemp |
				pdevent.PEGetSourceCap | pdevent.PENewPower | pdevent.PEPPSRequest
			if pe.minPower {
				return mask, pe.Config.SinkRequest
			}
			return mask, 0
		},
		Process: func(ctx context.Context, pe *PolicyEngine, bits pdevent.Bits, buf *pdmsg.Buffer, timedOut bool) (*state, error) {
			if timedOut {
				return stateSelectCap, nil
			}
			if bits&pdevent.PEPeReset != 0 {
				return stateTransitionDefault, nil
			}
			if bits&pdevent.PEOverTemp != 0 {
				return stateHardReset, nil
			}
			if bits&pdevent.PEGetSourceCap != 0 {
				pe.TX.Send(pdevent.TXStartAMS)
				return stateGetSourceCap, nil
			}
			if bits&pdevent.PENewPower != 0 {
				return stateEvalCap, nil
			}
			if bits&pdevent.PEPPSRequest != 0 {
				return stateSelectCap, nil
			}
			if buf == nil {
				return nil, nil
			}
			return readyDispatch(pe, buf)
		},
	}

	stateGetSourceCap = &state{
		Name: "GetSourceCap",
		Enter: func(ctx context.Context, pe *PolicyEngine) (*state, error) {
			buf, err := pe.Pool.Alloc()
			if err != nil {
				return nil, err
			}
			buf.SetHeader(pe.newHeader(pdmsg.TypeGetSourceCap, 0))
			done, _, peReset, err := pe.transmitAndAwait(ctx, buf)
			if err != nil {
				return nil, err
			}
			if peReset {
				return stateTransitionDefault, nil
			}
			if !done {
				return stateHardReset, nil
			}
			return stateReady, nil
		},
	}

	stateGiveSinkCap = &state{
		Name: "GiveSinkCap",
		Enter: func(ctx context.Context, pe *PolicyEngine) (*state, error) {
			buf, err := pe.Pool.Alloc()
			if err != nil {
				return nil, err
			}
			pe.DPM.SinkCapability(buf)
			h := buf.Header()
			pe.stampRoles(&h)
			buf.SetHeader(h)

			done, _, peReset, err := pe.transmitAndAwait(ctx, buf)
			if err != nil {
				return nil, err
			}
			if peReset {
				return stateTransitionDefault, nil
			}
			if !done {
				return stateHardReset, nil
			}
			return stateReady, nil
		},
	}

	stateHardReset = &state{
		Name: "HardReset",
		Enter: func(ctx context.Context, pe *PolicyEngine) (*state, error) {
			if pe.hardResetCounter > pe.Config.HardResetCount {
				return stateSourceUnresponsive, nil
			}
			if err := pe.HR.SendSync(ctx, pdevent.HRReset); err != nil {
				return nil, err
			}
			if _, _, err := pe.wait(ctx, pdevent.PEHardSent, 0); err != nil {
				return nil, err
			}
			pe.hardResetCounter++
			return stateTransitionDefault, nil
		},
	}

	stateTransitionDefault = &state{
		Name: "TransitionDefault",
		Enter: func(ctx context.Context, pe *PolicyEngine) (*state, error) {
			pe.explicitContract = false
			pe.cancelPPSTimer()
			if err := pe.DPM.TransitionDefault(); err != nil {
				return nil, err
			}
			if err := pe.HR.SendSync(ctx, pdevent.HRDone); err != nil {
				return nil, err
			}
			return stateStartup, nil
		},
	}

	stateSoftReset = &state{
		Name: "SoftReset",
		Enter: func(ctx context.Context, pe *PolicyEngine) (*state, error) {
			buf, err := pe.Pool.Alloc()
			if err != nil {
				return nil, err
			}
			buf.SetHeader(pe.newHeader(pdmsg.TypeAccept, 0))
			done, _, peReset, err := pe.transmitAndAwait(ctx, buf)
			if err != nil {
				return nil, err
			}
			if peReset {
				return stateTransitionDefault, nil
			}
			if done {
				return stateWaitCap, nil
			}
			return stateHardReset, nil
		},
	}

	stateSendSoftReset = &state{
		Name: "SendSoftReset",
		Enter: func(ctx context.Context, pe *PolicyEngine) (*state, error) {
			buf, err := pe.Pool.Alloc()
			if err != nil {
				return nil, err
			}
			buf.SetHeader(pe.newHeader(pdmsg.TypeSoftReset, 0))
			done, _, peReset, err := pe.transmitAndAwait(ctx, buf)
			if err != nil {
				return nil, err
			}
			if peReset {
				return stateTransitionDefault, nil
			}
			if !done {
				return stateHardReset, nil
			}

			bits, timedOut, err := pe.wait(ctx, pdevent.PEMsgRx|pdevent.PEPeReset, pe.Config.SenderResponse)
			if err != nil {
				return nil, err
			}
			if timedOut {
				return stateHardReset, nil
			}
			if bits&pdevent.PEPeReset != 0 {
				return stateTransitionDefault, nil
			}
			buf2 := pe.popMessage()
			if buf2 == nil {
				return stateHardReset, nil
			}
			h := buf2.Header()
			pe.Pool.Free(buf2)
			switch {
			case !h.IsData() && h.Type() == pdmsg.TypeAccept:
				return stateWaitCap, nil
			case !h.IsData() && h.Type() == pdmsg.TypeSoftReset:
				return stateSoftReset, nil
			default:
				return stateHardReset, nil
			}
		},
	}

	stateSendNotSupported = &state{
		Name: "SendNotSupported",
		Enter: func(ctx context.Context, pe *PolicyEngine) (*state, error) {
			t := pdmsg.TypeReject
			if pe.rev == pdmsg.Revision30 {
				t = pdmsg.TypeNotSupported
			}
			buf, err := pe.Pool.Alloc()
			if err != nil {
				return nil, err
			}
			buf.SetHeader(pe.newHeader(t, 0))
			done, txErr, peReset, err := pe.transmitAndAwait(ctx, buf)
			if err != nil {
				return nil, err
			}
			if peReset {
				return stateTransitionDefault, nil
			}
			if txErr || !done {
				return stateSendSoftReset, nil
			}
			return stateReady, nil
		},
	}

	stateChunkReceived = &state{
		Name: "ChunkReceived",
		Wait: func(pe *PolicyEngine) (pdevent.Bits, time.Duration) {
			return pdevent.PEPeReset, pe.Config.ChunkingNotSupported
		},
		Process: func(ctx context.Context, pe *PolicyEngine, bits pdevent.Bits, buf *pdmsg.Buffer, timedOut bool) (*state, error) {
			if bits&pdevent.PEPeReset != 0 {
				return stateTransitionDefault, nil
			}
			return stateSendNotSupported, nil
		},
	}

	stateNotSupportedReceived = &state{
		Name: "NotSupportedReceived",
		Enter: func(ctx context.Context, pe *PolicyEngine) (*state, error) {
			pe.DPM.NotSupportedReceived()
			return stateReady, nil
		},
	}

	stateSourceUnresponsive = &state{
		Name: "SourceUnresponsive",
		Wait: func(pe *PolicyEngine) (pdevent.Bits, time.Duration) {
			return pdevent.PEPeReset, pe.Config.PDDebounce
		},
		Process: func(ctx context.Context, pe *PolicyEngine, bits pdevent.Bits, buf *pdmsg.Buffer, timedOut bool) (*state, error) {
			if bits&pdevent.PEPeReset != 0 {
				pe.hardResetCounter = 0
				return stateTransitionDefault, nil
			}
			cur, err := pe.PHY.TypeCCurrent()
			if err == nil {
				if pe.haveLastTCCurrent && pe.lastTCCurrent == cur && pe.DPM.EvaluateTypeCCurrent(cur) {
					if err := pe.DPM.TransitionTypeC(); err != nil {
						logf(pe.Log, "pdpe: SourceUnresponsive: transition_typec: %v", err)
					}
				}
				pe.lastTCCurrent = cur
				pe.haveLastTCCurrent = true
			}
			return nil, nil
		},
	}
}

// readyDispatch implements the message-type dispatch table for the
// Ready state.
func readyDispatch(pe *PolicyEngine, buf *pdmsg.Buffer) (*state, error) {
	h := buf.Header()
	switch {
	case !h.IsData() && h.Type() == pdmsg.TypePing:
		pe.Pool.Free(buf)
		return nil, nil
	case h.IsData() && h.Type() == pdmsg.TypeVendorDefined:
		pe.Pool.Free(buf)
		return nil, nil
	case !h.IsData() && (h.Type() == pdmsg.TypeDRSwap || h.Type() == pdmsg.TypePRSwap ||
		h.Type() == pdmsg.TypeVCONNSwap || h.Type() == pdmsg.TypeGetSourceCap):
		pe.Pool.Free(buf)
		return stateSendNotSupported, nil
	case h.IsData() && h.Type() == pdmsg.TypeSinkCap && h.DataObjectCount() > 0:
		pe.Pool.Free(buf)
		return stateSendNotSupported, nil
	case h.IsData() && h.Type() == pdmsg.TypeRequest && h.DataObjectCount() > 0:
		pe.Pool.Free(buf)
		return stateSendNotSupported, nil
	case !h.IsData() && h.Type() == pdmsg.TypeGotoMin:
		if !pe.DPM.GiveBackEnabled() {
			pe.Pool.Free(buf)
			return stateSendNotSupported, nil
		}
		pe.Pool.Free(buf)
		if err := pe.DPM.TransitionMin(); err != nil {
			return nil, err
		}
		pe.minPower = true
		return stateTransitionSink, nil
	case h.IsData() && h.Type() == pdmsg.TypeSourceCap:
		pe.pendingSourceCapBuf = buf
		return stateEvalCap, nil
	case !h.IsData() && h.Type() == pdmsg.TypeGetSinkCap:
		pe.Pool.Free(buf)
		return stateGiveSinkCap, nil
	case !h.IsData() && h.Type() == pdmsg.TypeSoftReset:
		pe.Pool.Free(buf)
		return stateSoftReset, nil
	default:
		if pe.rev == pdmsg.Revision30 {
			if h.IsExtended() {
				pe.Pool.Free(buf)
				return stateChunkReceived, nil
			}
			if !h.IsData() && h.Type() == pdmsg.TypeNotSupported {
				pe.Pool.Free(buf)
				return stateNotSupportedReceived, nil
			}
		}
		pe.Pool.Free(buf)
		return stateSendSoftReset, nil
	}
}
