package pdpe

import (
	"sync"

	"github.com/gousbpd/sinkstack/pddpm"
	"github.com/gousbpd/sinkstack/pdmsg"
	"github.com/gousbpd/sinkstack/pdphy"
)

// fakePHY supplies only the one PHY method the Policy Engine calls
// directly (TypeCCurrent, used by SourceUnresponsive); every other PHY
// method belongs to the protocol layer, which these tests stand in for
// by hand.
type fakePHY struct {
	mu  sync.Mutex
	cur pdphy.TypeCCurrent
	err error
}

func (f *fakePHY) Setup() error                            { return nil }
func (f *fakePHY) Reset() error                            { return nil }
func (f *fakePHY) SendHardReset() error                    { return nil }
func (f *fakePHY) SendMessage(*pdmsg.Buffer) error         { return nil }
func (f *fakePHY) ReadMessage(*pdmsg.Buffer) (bool, error) { return false, nil }
func (f *fakePHY) ReadStatus() (pdphy.Status, error)       { return pdphy.Status{}, nil }

func (f *fakePHY) TypeCCurrent() (pdphy.TypeCCurrent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur, f.err
}

func (f *fakePHY) setCurrent(c pdphy.TypeCCurrent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur = c
}

// fakeDPM is a scriptable DPM used by every Policy Engine test.
type fakeDPM struct {
	pddpm.DefaultCallbacks

	mu sync.Mutex

	evalFn    func([]pdmsg.PDO) pdmsg.RequestDO
	sinkCapFn func(*pdmsg.Buffer)
	giveBack  bool
	tcEvalFn  func(pdphy.TypeCCurrent) bool

	startCount               int
	transitionDefaultCount   int
	transitionStandbyCount   int
	transitionRequestedCount int
	transitionMinCount       int
	transitionTypeCCount     int
	notSupportedCount        int

	transitionErr error
}

func (d *fakeDPM) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.evalFn != nil {
		return d.evalFn(pdos)
	}
	return pdmsg.EmptyRequestDO
}

func (d *fakeDPM) SinkCapability(buf *pdmsg.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sinkCapFn != nil {
		d.sinkCapFn(buf)
	}
}

func (d *fakeDPM) GiveBackEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.giveBack
}

func (d *fakeDPM) EvaluateTypeCCurrent(c pdphy.TypeCCurrent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tcEvalFn != nil {
		return d.tcEvalFn(c)
	}
	return false
}

func (d *fakeDPM) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startCount++
}

func (d *fakeDPM) TransitionDefault() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transitionDefaultCount++
	return d.transitionErr
}

func (d *fakeDPM) TransitionStandby() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transitionStandbyCount++
	return d.transitionErr
}

func (d *fakeDPM) TransitionRequested() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transitionRequestedCount++
	return d.transitionErr
}

func (d *fakeDPM) TransitionMin() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transitionMinCount++
	return d.transitionErr
}

func (d *fakeDPM) TransitionTypeC() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transitionTypeCCount++
	return d.transitionErr
}

func (d *fakeDPM) NotSupportedReceived() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notSupportedCount++
}

func (d *fakeDPM) counts() (start, def, standby, requested, min, typec, notSupported int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startCount, d.transitionDefaultCount, d.transitionStandbyCount,
		d.transitionRequestedCount, d.transitionMinCount, d.transitionTypeCCount, d.notSupportedCount
}

// sourceCapBuf builds a one-or-more-PDO Source_Capabilities message of
// the given revision.
func sourceCapBuf(rev pdmsg.Revision, pdos ...pdmsg.PDO) pdmsg.Buffer {
	var buf pdmsg.Buffer
	var h pdmsg.Header
	h.SetType(pdmsg.TypeSourceCap)
	h.SetDataObjectCount(uint8(len(pdos)))
	h.SetSpecRevision(rev)
	h.SetPowerRole(pdmsg.PowerRoleSource)
	buf.SetHeader(h)
	for i, p := range pdos {
		buf.SetDataObject(i, uint32(p))
	}
	return buf
}

func fixedPDO(mV, mA uint16) pdmsg.PDO {
	var p pdmsg.FixedSupplyPDO
	p.SetVoltage(mV)
	p.SetMaxCurrent(mA)
	return pdmsg.PDO(p)
}

func ppsPDO(minMV, maxMV, maxMA uint16) pdmsg.PDO {
	p := pdmsg.NewPPSPDO()
	p.SetMinVoltage(minMV)
	p.SetMaxVoltage(maxMV)
	p.SetMaxCurrent(maxMA)
	return pdmsg.PDO(p)
}

func controlBuf(t pdmsg.Type) pdmsg.Buffer {
	var buf pdmsg.Buffer
	var h pdmsg.Header
	h.SetType(t)
	buf.SetHeader(h)
	return buf
}
