package pddpm

import (
	"errors"

	"github.com/gousbpd/sinkstack/pdmsg"
)

// PowerPolicy is the capability-matching half of a DPM: given a source's
// advertised profiles, decide which one (if any) to request. Policy wraps
// a PowerPolicy with the rest of the required DPM surface.
type PowerPolicy interface {
	Validate() error
	CapabilityEvaluator
}

var (
	errCCBadCurrent          = errors.New("pddpm: current must be >= 1000mA & <= 5000mA")
	errBadVoltage            = errors.New("pddpm: voltage must be >= 3300mV & <= 21000mV")
	errCVBadCurrent          = errors.New("pddpm: current must be >= 0mA & <= 5000mA")
	errMaxCurrentLessThanMin = errors.New("pddpm: max current must be >= min current")
	errMaxVoltageLessThanMin = errors.New("pddpm: max voltage must be >= min voltage")
)

// CCPolicy requests a constant-current PPS profile: the source is
// expected to drop voltage to hold current at or below MaxCurrent, and to
// raise voltage (up to MaxVoltage) if the load draws less.
//
// Constant current is a PPS-only capability; sources without PPS never
// match.
type CCPolicy struct {
	MinVoltage, MaxVoltage uint16
	MinCurrent, MaxCurrent uint16
	PreferLowerVoltage     bool
}

// Validate returns an error if the policy's bounds are outside the PPS
// rev 3.0 range or inverted.
func (c CCPolicy) Validate() error {
	if c.MinCurrent < 1000 || c.MaxCurrent < 1000 || c.MinCurrent > 5000 || c.MaxCurrent > 5000 {
		return errCCBadCurrent
	}
	if c.MinVoltage < 3300 || c.MaxVoltage < 3300 || c.MinVoltage > 21000 || c.MaxVoltage > 21000 {
		return errBadVoltage
	}
	if c.MinCurrent > c.MaxCurrent {
		return errMaxCurrentLessThanMin
	}
	if c.MinVoltage > c.MaxVoltage {
		return errMaxVoltageLessThanMin
	}
	return nil
}

// EvaluateCapabilities implements CapabilityEvaluator.
func (c CCPolicy) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	var bestVoltage uint16
	if c.PreferLowerVoltage {
		bestVoltage = ^uint16(0)
	}
	rdo := pdmsg.EmptyRequestDO
	for i, p := range pdos {
		if p.Type() != pdmsg.PDOTypePPS {
			continue
		}
		pps := pdmsg.PPSPDO(p)
		minV, maxV := c.MinVoltage, c.MaxVoltage
		if minV < pps.MinVoltage() {
			minV = pps.MinVoltage()
		}
		if maxV > pps.MaxVoltage() {
			maxV = pps.MaxVoltage()
		}
		if minV > maxV || pps.MaxCurrent() < c.MinCurrent {
			continue
		}
		cur := pps.MaxCurrent()
		if cur > c.MaxCurrent {
			cur = c.MaxCurrent
		}
		if c.PreferLowerVoltage && minV < bestVoltage {
			rdo.SetSelectedObjectPosition(uint8(i) + 1)
			rdo.SetPPSOutputVoltage(minV)
			rdo.SetPPSOutputCurrent(cur)
			bestVoltage = minV
		} else if !c.PreferLowerVoltage && maxV > bestVoltage {
			rdo.SetSelectedObjectPosition(uint8(i) + 1)
			rdo.SetPPSOutputVoltage(maxV)
			rdo.SetPPSOutputCurrent(cur)
			bestVoltage = maxV
		}
	}
	return rdo
}

// CVPolicy requests a constant-voltage profile, fixed or PPS, capable of
// at least Current at the negotiated voltage. A 150mA margin is added to
// PPS matches to avoid the supply current-limiting right at the operating
// point.
type CVPolicy struct {
	MinVoltage, MaxVoltage uint16
	Current                uint16
	PreferLowerVoltage     bool
	PreferPPS              bool
}

const cvCurrentMargin = 150 // mA

// Validate returns an error if the policy's bounds are invalid.
func (c CVPolicy) Validate() error {
	if c.Current > 5000 {
		return errCVBadCurrent
	}
	if c.MinVoltage < 3300 || c.MaxVoltage < 3300 || c.MinVoltage > 21000 || c.MaxVoltage > 21000 {
		return errBadVoltage
	}
	if c.MinVoltage > c.MaxVoltage {
		return errMaxVoltageLessThanMin
	}
	return nil
}

// EvaluateCapabilities implements CapabilityEvaluator.
func (c *CVPolicy) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	ppsMaxCurrent := c.Current + cvCurrentMargin

	var bestFixedVoltage, bestPPSVoltage uint16
	if c.PreferLowerVoltage {
		bestFixedVoltage = ^uint16(0)
		bestPPSVoltage = ^uint16(0)
	}
	bestFixedRDO := pdmsg.EmptyRequestDO
	bestPPSRDO := pdmsg.EmptyRequestDO
	for i, p := range pdos {
		switch p.Type() {
		case pdmsg.PDOTypeFixedSupply:
			fs := pdmsg.FixedSupplyPDO(p)
			v := fs.Voltage()
			if v < c.MinVoltage || v > c.MaxVoltage || fs.MaxCurrent() < c.Current {
				continue
			}
			if (c.PreferLowerVoltage && v < bestFixedVoltage) || (!c.PreferLowerVoltage && v > bestFixedVoltage) {
				bestFixedRDO.SetSelectedObjectPosition(uint8(i) + 1)
				bestFixedRDO.SetFixedMaxOperatingCurrent(c.Current)
				bestFixedRDO.SetFixedOperatingCurrent(c.Current)
				bestFixedVoltage = v
			}
		case pdmsg.PDOTypePPS:
			pps := pdmsg.PPSPDO(p)
			minV, maxV := c.MinVoltage, c.MaxVoltage
			if minV < pps.MinVoltage() {
				minV = pps.MinVoltage()
			}
			if maxV > pps.MaxVoltage() {
				maxV = pps.MaxVoltage()
			}
			if minV > maxV || ppsMaxCurrent > pps.MaxCurrent() {
				continue
			}
			if c.PreferLowerVoltage && minV < bestPPSVoltage {
				bestPPSRDO.SetSelectedObjectPosition(uint8(i) + 1)
				bestPPSRDO.SetPPSOutputVoltage(minV)
				bestPPSRDO.SetPPSOutputCurrent(c.Current)
				bestPPSVoltage = minV
			} else if !c.PreferLowerVoltage && maxV > bestPPSVoltage {
				bestPPSRDO.SetSelectedObjectPosition(uint8(i) + 1)
				bestPPSRDO.SetPPSOutputVoltage(maxV)
				bestPPSRDO.SetPPSOutputCurrent(c.Current)
				bestPPSVoltage = maxV
			}
		}
	}
	switch {
	case bestFixedRDO == pdmsg.EmptyRequestDO:
		return bestPPSRDO
	case bestPPSRDO == pdmsg.EmptyRequestDO:
		return bestFixedRDO
	case c.PreferPPS:
		return bestPPSRDO
	default:
		return bestFixedRDO
	}
}

// CPPolicy requests a constant-power profile: current is derived from
// Power and the negotiated voltage at match time.
type CPPolicy struct {
	MinVoltage, MaxVoltage uint16
	Power                  uint16
	PreferLowerVoltage     bool
	PreferPPS              bool
}

// Validate returns an error if the policy's bounds are invalid.
func (c CPPolicy) Validate() error {
	if c.MinVoltage < 3300 || c.MaxVoltage < 3300 || c.MinVoltage > 21000 || c.MaxVoltage > 21000 {
		return errBadVoltage
	}
	if c.MinVoltage > c.MaxVoltage {
		return errMaxVoltageLessThanMin
	}
	return nil
}

// EvaluateCapabilities implements CapabilityEvaluator.
func (c *CPPolicy) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	var bestFixedVoltage, bestPPSVoltage uint16
	if c.PreferLowerVoltage {
		bestFixedVoltage = ^uint16(0)
		bestPPSVoltage = ^uint16(0)
	}
	bestFixedRDO := pdmsg.EmptyRequestDO
	bestPPSRDO := pdmsg.EmptyRequestDO
	for i, p := range pdos {
		switch p.Type() {
		case pdmsg.PDOTypeFixedSupply:
			fs := pdmsg.FixedSupplyPDO(p)
			v := fs.Voltage()
			if v == 0 || v < c.MinVoltage || v > c.MaxVoltage {
				continue
			}
			maxCur := uint16(uint32(c.Power) * 1000 / uint32(v))
			if fs.MaxCurrent() < maxCur {
				continue
			}
			if (c.PreferLowerVoltage && v < bestFixedVoltage) || (!c.PreferLowerVoltage && v > bestFixedVoltage) {
				bestFixedRDO.SetSelectedObjectPosition(uint8(i) + 1)
				bestFixedRDO.SetFixedMaxOperatingCurrent(maxCur)
				bestFixedRDO.SetFixedOperatingCurrent(maxCur)
				bestFixedVoltage = v
			}
		case pdmsg.PDOTypePPS:
			pps := pdmsg.PPSPDO(p)
			minV, maxV := c.MinVoltage, c.MaxVoltage
			if minV < pps.MinVoltage() {
				minV = pps.MinVoltage()
			}
			if maxV > pps.MaxVoltage() {
				maxV = pps.MaxVoltage()
			}
			if minV > maxV || pps.MaxCurrent() <= cvCurrentMargin {
				continue
			}
			maxC := uint16(uint32(c.Power)*1000/uint32(maxV)) + cvCurrentMargin
			minPV := uint16(uint32(c.Power) * 1000 / uint32(pps.MaxCurrent()-cvCurrentMargin))
			if minPV < minV {
				minPV = minV
			}
			if c.PreferLowerVoltage && minPV < bestPPSVoltage && minPV <= maxV {
				bestPPSRDO.SetSelectedObjectPosition(uint8(i) + 1)
				bestPPSRDO.SetPPSOutputVoltage(minPV)
				bestPPSRDO.SetPPSOutputCurrent(uint16(uint32(c.Power) * 1000 / uint32(minPV)))
				bestPPSVoltage = minPV
			} else if !c.PreferLowerVoltage && maxV > bestPPSVoltage && maxC <= pps.MaxCurrent() {
				bestPPSRDO.SetSelectedObjectPosition(uint8(i) + 1)
				bestPPSRDO.SetPPSOutputVoltage(maxV)
				bestPPSRDO.SetPPSOutputCurrent(maxC)
				bestPPSVoltage = maxV
			}
		}
	}
	switch {
	case bestFixedRDO == pdmsg.EmptyRequestDO:
		return bestPPSRDO
	case bestPPSRDO == pdmsg.EmptyRequestDO:
		return bestFixedRDO
	case c.PreferPPS:
		return bestPPSRDO
	default:
		return bestFixedRDO
	}
}
