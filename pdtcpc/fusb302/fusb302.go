// Package fusb302 implements pdphy.PHY over an FUSB302B USB-PD
// transceiver reached through a periph.io I²C bus.
package fusb302

import (
	"time"

	"periph.io/x/conn/v3/i2c"

	"github.com/gousbpd/sinkstack/pdmsg"
	"github.com/gousbpd/sinkstack/pdphy"
)

// MPN identifies one of the FUSB302 variants by its fixed I²C address.
type MPN uint16

// Manufacturer part numbers and their I²C addresses.
const (
	FUSB302BUCX   MPN = 0b100010
	FUSB302BMPX   MPN = 0b100010
	FUSB302VMPX   MPN = 0b100010
	FUSB302B01MPX MPN = 0b100011
	FUSB302B10MPX MPN = 0b100100
	FUSB302B11MPX MPN = 0b100101
)

// Driver is a pdphy.PHY implementation for the FUSB302B. It assumes a
// fixed CC1 polarity and sink-only operation: the port attach/CC-toggle
// state machine the chip can run autonomously is left disabled, since
// this stack treats VBUS presence as its own attach signal rather than
// detecting Type-C attach itself.
type Driver struct {
	bus  i2c.Bus
	addr uint16

	intA byte // interrupt bits latched between ReadStatus calls

	// buf is reused across register accesses to avoid a heap allocation
	// per call.
	buf [9 + pdmsg.MaxMessageBytes]byte
}

// New creates a driver for the given bus and part number. The bus must
// run at 1MHz or slower, per the FUSB302B datasheet.
func New(bus i2c.Bus, mpn MPN) *Driver {
	return &Driver{bus: bus, addr: uint16(mpn)}
}

func (f *Driver) write(r uint8, d byte) error {
	f.buf[0], f.buf[1] = r, d
	return f.bus.Tx(f.addr, f.buf[:2], nil)
}

func (f *Driver) read(r uint8) (byte, error) {
	f.buf[0] = r
	err := f.bus.Tx(f.addr, f.buf[:1], f.buf[1:2])
	return f.buf[1], err
}

func (f *Driver) writeMany(r uint8, d []byte) error {
	f.buf[0] = r
	copy(f.buf[1:], d)
	return f.bus.Tx(f.addr, f.buf[:len(d)+1], nil)
}

func (f *Driver) readMany(r uint8, d []byte) error {
	f.buf[0] = r
	err := f.bus.Tx(f.addr, f.buf[:1], f.buf[1:len(d)+1])
	if err == nil {
		copy(d, f.buf[1:len(d)+1])
	}
	return err
}

// Setup initializes the chip for sink operation on CC1: software reset,
// full power, fixed-polarity measure/transmit switches, auto-GoodCRC,
// and hardware auto-retry.
func (f *Driver) Setup() error {
	if err := f.write(regReset, regResetSWReset); err != nil {
		return err
	}
	if err := f.write(regPower, regPowerPwrAll); err != nil {
		return err
	}
	if err := f.write(regSwitches0, regSwitches0MeasCC1|regSwitches0CC1PdEn|regSwitches0CC2PdEn); err != nil {
		return err
	}
	if err := f.write(regSwitches1, regSwitches1SpecRev1|regSwitches1AutoGCRC|regSwitches1TxCC1En); err != nil {
		return err
	}
	if err := f.write(regControl3, 0b111); err != nil {
		return err
	}
	return nil
}

// Reset flushes both FIFOs without touching the switch/power
// configuration Setup established, for PRL-RX/PRL-TX's own Reset
// states.
func (f *Driver) Reset() error {
	if err := f.write(regControl1, 0b100); err != nil {
		return err
	}
	return f.write(regControl0, 0b01100100)
}

// SendHardReset drives a hard-reset ordered set and blocks until the
// chip confirms it was sent or a short internal timeout elapses (see
// DESIGN.md's hard-reset-timeout decision: a timeout here is not
// escalated as an error, it is treated as "attempted").
func (f *Driver) SendHardReset() error {
	r, err := f.read(regControl3)
	if err != nil {
		return err
	}
	if err := f.write(regControl3, r|regControl3SendHardReset); err != nil {
		return err
	}
	for i := 0; i < 5; i++ {
		intA, err := f.read(regInterruptA)
		if err != nil {
			return err
		}
		f.intA |= intA
		if intA&regInterruptAHardSent != 0 {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// SendMessage transmits buf and blocks until the chip's auto-retry state
// machine settles, successfully or not; the result is read back on the
// next ReadStatus call, per pdphy.PHY's contract.
func (f *Driver) SendMessage(buf *pdmsg.Buffer) error {
	if err := f.write(regControl0, 0b01100100); err != nil {
		return err
	}

	mlen := buf.WireLen()
	var fifo [9 + pdmsg.MaxMessageBytes]byte
	fifo[0], fifo[1], fifo[2], fifo[3] = fifoTokenSync1, fifoTokenSync1, fifoTokenSync1, fifoTokenSync2
	fifo[4] = fifoTokenPackSym | byte(mlen)
	copy(fifo[5:], buf.Raw[:mlen])
	fifo[5+mlen] = fifoTokenJamCRC
	fifo[6+mlen] = fifoTokenEOP
	fifo[7+mlen] = fifoTokenTxOff
	fifo[8+mlen] = fifoTokenTxOn
	plen := 9 + mlen

	if err := f.writeMany(regFIFOs, fifo[:plen]); err != nil {
		return err
	}

	for i := 0; i < 10; i++ {
		r, err := f.read(regInterruptA)
		if err != nil {
			return err
		}
		f.intA |= r
		if r&(regInterruptATxSuccess|regInterruptARetryFail) != 0 {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// ReadMessage pops one complete packet from the receive FIFO into buf,
// whatever its type, including a GoodCRC reply to our own last
// transmission, which PRL-TX reads directly to match the message ID;
// PRL-RX only ever calls this after the INT_N dispatcher
// reports an inbound protocol message, so the two consumers never race
// for the same FIFO entry.
func (f *Driver) ReadMessage(buf *pdmsg.Buffer) (bool, error) {
	status1, err := f.read(regStatus1)
	if err != nil {
		return false, err
	}
	if status1&regStatus1RxEmpty != 0 {
		return false, nil
	}

	var hdr [3]byte
	if err := f.readMany(regFIFOs, hdr[:]); err != nil {
		return false, err
	}
	buf.Raw[0], buf.Raw[1] = hdr[1], hdr[2]
	n := int(buf.Header().DataObjectCount())

	if n > 0 {
		var body [pdmsg.MaxMessageBytes - 1 + 4]byte
		if err := f.readMany(regFIFOs, body[:n*4+4]); err != nil {
			return false, err
		}
		copy(buf.Raw[2:2+n*4], body[:n*4])
	} else {
		var crc [4]byte
		if err := f.readMany(regFIFOs, crc[:]); err != nil {
			return false, err
		}
	}
	return true, nil
}

// ReadStatus reads and clears the chip's status/interrupt registers. Its
// OverTemp field is always false: the FUSB302B has no over-temperature
// comparator of its own, so a port that needs that protection must wire
// an external sensor directly into the Policy Engine's PEOverTemp bit
// rather than through this driver.
func (f *Driver) ReadStatus() (pdphy.Status, error) {
	var regs [7]byte
	if err := f.readMany(regStatus0A, regs[:]); err != nil {
		return pdphy.Status{}, err
	}
	status0A, intA, intB, status0 := regs[0], regs[2], regs[3], regs[4]
	intA |= f.intA
	f.intA = 0

	return pdphy.Status{
		VBUSOK:            status0&regStatus0VBusOK != 0,
		IComp:             pdphy.TypeCCurrent(status0 & 0b11),
		RxReady:           intB&regInterruptBGCRCSent != 0,
		TxSent:            intA&regInterruptATxSuccess != 0,
		RetryFailed:       intA&regInterruptARetryFail != 0,
		HardResetReceived: intA&regInterruptAHardReset != 0 && status0A&regStatus0ARxHardReset != 0,
		HardResetSent:     intA&regInterruptAHardSent != 0,
		OverTemp:          false,
	}, nil
}

// TypeCCurrent reads the CC current-advertisement comparator directly,
// independent of ReadStatus, for the Policy Engine's SourceUnresponsive
// polling.
func (f *Driver) TypeCCurrent() (pdphy.TypeCCurrent, error) {
	v, err := f.read(regStatus0)
	if err != nil {
		return 0, err
	}
	return pdphy.TypeCCurrent(v & 0b11), nil
}

const (
	regSwitches0        = 0x02
	regSwitches0MeasCC1 = 1 << 2
	regSwitches0CC2PdEn = 1 << 1
	regSwitches0CC1PdEn = 1 << 0

	regSwitches1         = 0x03
	regSwitches1SpecRev1 = 1 << 6
	regSwitches1AutoGCRC = 1 << 2
	regSwitches1TxCC1En  = 1 << 0

	regControl0 = 0x06
	regControl1 = 0x07

	regControl3              = 0x09
	regControl3SendHardReset = 1 << 6

	regPower       = 0x0B
	regPowerPwrAll = 0xF

	regReset        = 0x0C
	regResetSWReset = 1 << 0

	regStatus0A            = 0x3C
	regStatus0ARxHardReset = 1 << 0

	regInterruptA          = 0x3E
	regInterruptARetryFail = 1 << 4
	regInterruptAHardSent  = 1 << 3
	regInterruptATxSuccess = 1 << 2
	regInterruptAHardReset = 1 << 0

	regInterruptB         = 0x3F
	regInterruptBGCRCSent = 1 << 0

	regStatus0       = 0x40
	regStatus0VBusOK = 1 << 7

	regStatus1        = 0x41
	regStatus1RxEmpty = 1 << 5

	regFIFOs = 0x43

	fifoTokenTxOn    = 0xA1
	fifoTokenSync1   = 0x12
	fifoTokenSync2   = 0x13
	fifoTokenPackSym = 0x80
	fifoTokenJamCRC  = 0xFF
	fifoTokenEOP     = 0x14
	fifoTokenTxOff   = 0xFE
)
