package pddpm

import (
	"testing"

	"github.com/gousbpd/sinkstack/pdmsg"
)

func fixedPDO(voltageMV, maxCurrentMA uint16) pdmsg.PDO {
	var fs pdmsg.FixedSupplyPDO
	fs.SetVoltage(voltageMV)
	fs.SetMaxCurrent(maxCurrentMA)
	return pdmsg.PDO(fs)
}

func ppsPDO(minMV, maxMV, maxCurrentMA uint16) pdmsg.PDO {
	pps := pdmsg.NewPPSPDO()
	pps.SetMinVoltage(minMV)
	pps.SetMaxVoltage(maxMV)
	pps.SetMaxCurrent(maxCurrentMA)
	return pdmsg.PDO(pps)
}

func TestCCPolicyValidate(t *testing.T) {
	good := CCPolicy{MinVoltage: 5000, MaxVoltage: 20000, MinCurrent: 1000, MaxCurrent: 3000}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := CCPolicy{MinVoltage: 5000, MaxVoltage: 20000, MinCurrent: 500, MaxCurrent: 3000}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for current below 1000mA floor")
	}
	inverted := CCPolicy{MinVoltage: 20000, MaxVoltage: 5000, MinCurrent: 1000, MaxCurrent: 3000}
	if err := inverted.Validate(); err == nil {
		t.Fatal("expected error for inverted voltage bounds")
	}
}

func TestCCPolicyIgnoresFixedPDOs(t *testing.T) {
	c := CCPolicy{MinVoltage: 5000, MaxVoltage: 20000, MinCurrent: 1000, MaxCurrent: 3000}
	pdos := []pdmsg.PDO{fixedPDO(5000, 3000)}
	if rdo := c.EvaluateCapabilities(pdos); rdo != pdmsg.EmptyRequestDO {
		t.Fatalf("expected no match against fixed-only capabilities, got %v", rdo)
	}
}

func TestCCPolicyMatchesPPS(t *testing.T) {
	c := CCPolicy{MinVoltage: 5000, MaxVoltage: 11000, MinCurrent: 1000, MaxCurrent: 3000, PreferLowerVoltage: false}
	pdos := []pdmsg.PDO{
		ppsPDO(3300, 11000, 3000),
	}
	rdo := c.EvaluateCapabilities(pdos)
	if rdo == pdmsg.EmptyRequestDO {
		t.Fatal("expected a match")
	}
	if rdo.SelectedObjectPosition() != 1 {
		t.Fatalf("expected position 1, got %d", rdo.SelectedObjectPosition())
	}
	if v := rdo.PPSOutputVoltage(); v != 11000 {
		t.Fatalf("expected 11000mV (max, not preferring lower), got %d", v)
	}
}

func TestCVPolicyPrefersFixedOverPPSByDefault(t *testing.T) {
	c := CVPolicy{MinVoltage: 5000, MaxVoltage: 5000, Current: 2000}
	pdos := []pdmsg.PDO{
		fixedPDO(5000, 2000),
		ppsPDO(3300, 11000, 3000),
	}
	rdo := c.EvaluateCapabilities(pdos)
	if rdo == pdmsg.EmptyRequestDO {
		t.Fatal("expected a match")
	}
	if rdo.SelectedObjectPosition() != 1 {
		t.Fatalf("expected fixed PDO at position 1 to win, got position %d", rdo.SelectedObjectPosition())
	}
	if rdo.FixedOperatingCurrent() != 2000 {
		t.Fatalf("expected operating current 2000mA, got %d", rdo.FixedOperatingCurrent())
	}
}

func TestCVPolicyFallsBackToPPS(t *testing.T) {
	c := CVPolicy{MinVoltage: 9000, MaxVoltage: 9000, Current: 2000}
	pdos := []pdmsg.PDO{
		fixedPDO(5000, 3000),
		ppsPDO(3300, 11000, 3000),
	}
	rdo := c.EvaluateCapabilities(pdos)
	if rdo == pdmsg.EmptyRequestDO {
		t.Fatal("expected a PPS match")
	}
	if rdo.SelectedObjectPosition() != 2 {
		t.Fatalf("expected PPS PDO at position 2, got %d", rdo.SelectedObjectPosition())
	}
	if rdo.PPSOutputVoltage() != 9000 {
		t.Fatalf("expected 9000mV, got %d", rdo.PPSOutputVoltage())
	}
}

func TestCVPolicyRejectsInsufficientCurrent(t *testing.T) {
	c := CVPolicy{MinVoltage: 5000, MaxVoltage: 5000, Current: 4000}
	pdos := []pdmsg.PDO{fixedPDO(5000, 2000)}
	if rdo := c.EvaluateCapabilities(pdos); rdo != pdmsg.EmptyRequestDO {
		t.Fatalf("expected no match, got %v", rdo)
	}
}

func TestCPPolicyComputesCurrentFromPower(t *testing.T) {
	c := CPPolicy{MinVoltage: 5000, MaxVoltage: 5000, Power: 10000} // 10W at 5V -> 2000mA
	pdos := []pdmsg.PDO{fixedPDO(5000, 3000)}
	rdo := c.EvaluateCapabilities(pdos)
	if rdo == pdmsg.EmptyRequestDO {
		t.Fatal("expected a match")
	}
	if got := rdo.FixedOperatingCurrent(); got != 2000 {
		t.Fatalf("expected 2000mA, got %d", got)
	}
}

func TestCPPolicyRejectsUnderpoweredFixed(t *testing.T) {
	c := CPPolicy{MinVoltage: 5000, MaxVoltage: 5000, Power: 20000} // needs 4A at 5V
	pdos := []pdmsg.PDO{fixedPDO(5000, 3000)}
	if rdo := c.EvaluateCapabilities(pdos); rdo != pdmsg.EmptyRequestDO {
		t.Fatalf("expected no match, got %v", rdo)
	}
}

func TestCPPolicyValidate(t *testing.T) {
	bad := CPPolicy{MinVoltage: 20000, MaxVoltage: 5000, Power: 10000}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for inverted voltage bounds")
	}
}
