package congestion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDCTCPAlphaEWMA α = (1-g)*α + g*F
// 场景：α初始1.0，一个窗口内25%的确认字节带ECN标记 → α=0.953125
func TestDCTCPAlphaEWMA(t *testing.T) {
	d := NewDCTCP()
	s := NewSocketState(1460, 65535) // cwnd=5840，恰好4个段

	assert.Equal(t, 1.0, d.Alpha(), "α初始应为1.0（保守）")

	// 4个单段ACK组成一个窗口，其中1个带ECN标记（F=0.25）
	d.PktsAcked(s, 1, 50000, true)
	d.PktsAcked(s, 1, 50000, false)
	d.PktsAcked(s, 1, 50000, false)
	d.PktsAcked(s, 1, 50000, false)

	expected := (15.0/16.0)*1.0 + (1.0/16.0)*0.25
	assert.InDelta(t, expected, d.Alpha(), 1e-6, "一个窗口后α应为0.953125")
}

// TestDCTCPAlphaDecay 全程无标记的窗口使α按(1-g)逐窗衰减趋向0
func TestDCTCPAlphaDecay(t *testing.T) {
	d := NewDCTCP()
	s := NewSocketState(1460, 65535)

	alpha := 1.0
	for window := 0; window < 8; window++ {
		for i := 0; i < 4; i++ {
			d.PktsAcked(s, 1, 50000, false)
		}
		alpha *= 1.0 - dctcpG
		assert.InDelta(t, alpha, d.Alpha(), 1e-9,
			"第%d个无标记窗口后α应为(1-g)^n", window+1)
	}
	assert.Less(t, d.Alpha(), 1.0)
	assert.GreaterOrEqual(t, d.Alpha(), 0.0, "α必须始终落在[0,1]")
}

// TestDCTCPECNReduction ECN事件按α比例缩窗：cwnd*(1-α/2)
func TestDCTCPECNReduction(t *testing.T) {
	d := NewDCTCP()
	s := NewSocketState(1460, 65535)

	// 先构造α=0.953125
	d.PktsAcked(s, 1, 50000, true)
	d.PktsAcked(s, 1, 50000, false)
	d.PktsAcked(s, 1, 50000, false)
	d.PktsAcked(s, 1, 50000, false)
	alpha := d.Alpha()

	// 退出慢启动后ECN才会缩窗
	s.Ssthresh = 2920
	d.CwndEvent(s, EventECN)

	expected := uint32(math.Floor(5840 * (1.0 - alpha/2.0)))
	assert.Equal(t, expected, s.Cwnd, "ECN缩窗应为⌊cwnd*(1-α/2)⌋")
	assert.Equal(t, StateCWR, s.TCPState)
}

// TestDCTCPECNInSlowStart 慢启动阶段ECN只记录不缩窗
func TestDCTCPECNInSlowStart(t *testing.T) {
	d := NewDCTCP()
	s := NewSocketState(1460, 65535)

	before := s.Cwnd
	d.CwndEvent(s, EventECN)
	assert.Equal(t, before, s.Cwnd, "慢启动内ECN不应缩窗")
	assert.Equal(t, StateCWR, s.TCPState)
}

// TestDCTCPPacketLoss 丢包与ECN同样按α缩减
func TestDCTCPPacketLoss(t *testing.T) {
	d := NewDCTCP()
	s := NewSocketState(1460, 65535)
	s.Cwnd = 29200
	s.Ssthresh = 2920

	d.CwndEvent(s, EventPacketLoss)
	expected := maxU32(uint32(float64(29200)*(1.0-d.Alpha()/2.0)), 2*1460)
	assert.Equal(t, expected, s.Cwnd)
	assert.Equal(t, StateRecovery, s.TCPState)
}

// TestDCTCPTimeout 超时：阈值减半，窗口退回单段，α保守重置为1.0
func TestDCTCPTimeout(t *testing.T) {
	d := NewDCTCP()
	s := NewSocketState(1460, 65535)
	s.Cwnd = 29200

	// 先衰减一轮α
	for i := 0; i < 20; i++ {
		d.PktsAcked(s, 1, 50000, false)
	}
	assert.Less(t, d.Alpha(), 1.0)

	d.CwndEvent(s, EventTimeout)
	assert.Equal(t, uint32(14600), s.Ssthresh)
	assert.Equal(t, uint32(1460), s.Cwnd)
	assert.Equal(t, StateLoss, s.TCPState)
	assert.Equal(t, 1.0, d.Alpha(), "超时后α应重置为1.0")
}

// TestDCTCPGrowthFollowsReno 慢启动与拥塞避免沿用标准Reno增长
func TestDCTCPGrowthFollowsReno(t *testing.T) {
	d := NewDCTCP()
	s := NewSocketState(1460, 65535)

	d.IncreaseWindow(s, 1)
	assert.Equal(t, uint32(5840+1460), s.Cwnd, "慢启动每ACK增长一个MSS")

	s.Cwnd = 14600
	s.Ssthresh = 14600
	d.IncreaseWindow(s, 1)
	assert.Equal(t, uint32(14600+1460*1460/14600), s.Cwnd, "拥塞避免增量应为MSS²/cwnd")
}
