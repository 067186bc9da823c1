package pdproto

import (
	"sync"

	"github.com/gousbpd/sinkstack/pdmsg"
	"github.com/gousbpd/sinkstack/pdphy"
)

// fakePHY is a scriptable pdphy.PHY used by every state-machine test in
// this package. It is safe for concurrent use since the INT_N dispatcher,
// PRL-RX and PRL-TX would otherwise each touch it independently.
type fakePHY struct {
	mu            sync.Mutex
	rxQueue       []pdmsg.Buffer
	sent          []pdmsg.Buffer
	resetCount    int
	hardResetSent bool
}

func (f *fakePHY) Setup() error { return nil }

func (f *fakePHY) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCount++
	return nil
}

func (f *fakePHY) SendHardReset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hardResetSent = true
	return nil
}

func (f *fakePHY) SendMessage(buf *pdmsg.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, *buf)
	return nil
}

func (f *fakePHY) ReadMessage(buf *pdmsg.Buffer) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rxQueue) == 0 {
		return false, nil
	}
	*buf = f.rxQueue[0]
	f.rxQueue = f.rxQueue[1:]
	return true, nil
}

func (f *fakePHY) ReadStatus() (pdphy.Status, error) {
	return pdphy.Status{}, nil
}

func (f *fakePHY) TypeCCurrent() (pdphy.TypeCCurrent, error) {
	return pdphy.TypeCCurrentDefault, nil
}

// enqueueRx schedules buf to be returned by the next ReadMessage call.
func (f *fakePHY) enqueueRx(buf pdmsg.Buffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rxQueue = append(f.rxQueue, buf)
}

func (f *fakePHY) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func goodCRC(id uint8) pdmsg.Buffer {
	var buf pdmsg.Buffer
	var h pdmsg.Header
	h.SetType(pdmsg.TypeGoodCRC)
	h.SetMessageID(id)
	buf.SetHeader(h)
	return buf
}
