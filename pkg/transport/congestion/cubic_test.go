package congestion

import (
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

// TestCubicKComputation K = ∛(W_max*(1-β)/C)
// 场景：W_max=100*MSS=146000，β=0.7，C=0.4 → K=∛75≈4.2172秒
func TestCubicKComputation(t *testing.T) {
	c := NewCubic()
	s := NewSocketState(1460, 300000)
	s.Cwnd = 146000

	c.CwndEvent(s, EventPacketLoss)
	assert.InDelta(t, math.Cbrt(75.0), c.K(), 0.001, "K应为∛75≈4.2172秒")
	assert.Equal(t, uint32(float64(146000)*cubicBeta), s.Ssthresh, "阈值应为0.7*cwnd")
	assert.Equal(t, StateRecovery, s.TCPState)
}

// TestCubicTargetAtK 丢包后经过K秒，三次曲线目标回到W_max（∛恒等式）
func TestCubicTargetAtK(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCubic(WithClock(clock))
	s := NewSocketState(1460, 300000)
	s.Cwnd = 146000

	c.CwndEvent(s, EventPacketLoss)
	wMax := c.lastMaxCwnd

	target := c.cubicWindow(c.K(), s.MSS)
	assert.InDelta(t, float64(wMax), float64(target), float64(s.MSS),
		"t=K时三次曲线目标应回到W_max（允许取整误差）")
}

// TestCubicFastConvergence 窗口低于上次W_max时进一步下调W_max
func TestCubicFastConvergence(t *testing.T) {
	c := NewCubic()
	s := NewSocketState(1460, 300000)

	s.Cwnd = 146000
	c.CwndEvent(s, EventPacketLoss)
	assert.Equal(t, uint32(146000), c.lastMaxCwnd)

	// 第二次丢包时窗口（102200）低于W_max：fast convergence生效
	c.CwndEvent(s, EventPacketLoss)
	expected := uint32(float64(102200) * (2.0 - cubicBeta) / 2.0)
	assert.Equal(t, expected, c.lastMaxCwnd, "W_max应额外下调到cwnd*(2-β)/2")
}

// TestCubicSlowStart 慢启动与Reno一致，封顶到ssthresh
func TestCubicSlowStart(t *testing.T) {
	c := NewCubic()
	s := NewSocketState(1460, 65535)

	c.IncreaseWindow(s, 3)
	assert.Equal(t, uint32(5840+3*1460), s.Cwnd)

	s.Ssthresh = 11680
	c.IncreaseWindow(s, 4)
	assert.Equal(t, uint32(11680), s.Cwnd, "慢启动不应越过ssthresh")
}

// TestCubicGrowthAfterEpoch 拥塞避免阶段窗口沿三次曲线缓慢恢复
func TestCubicGrowthAfterEpoch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCubic(WithClock(clock))
	s := NewSocketState(1460, 300000)
	s.Cwnd = 146000

	c.CwndEvent(s, EventPacketLoss)
	s.TCPState = StateOpen
	lossCwnd := s.Cwnd

	// 推进到K秒之后，曲线目标越过W_max，窗口应能增长
	clock.Advance(5 * time.Second)
	grown := false
	for i := 0; i < 200; i++ {
		c.PktsAcked(s, 1, 50000, false)
		c.IncreaseWindow(s, 1)
		if s.Cwnd > lossCwnd {
			grown = true
			break
		}
	}
	assert.True(t, grown, "K秒后窗口应恢复增长")
}

// TestCubicHystart 慢启动内一轮RTT抖动超过阈值即提前退出
func TestCubicHystart(t *testing.T) {
	c := NewCubic()
	s := NewSocketState(1460, 65535)

	c.PktsAcked(s, 1, 10000, false)
	assert.Equal(t, SsthreshUnset, s.Ssthresh, "抖动未超阈值时不应退出慢启动")

	// 10600-10000=600µs > 默认阈值500µs
	c.PktsAcked(s, 1, 10600, false)
	assert.Equal(t, s.Cwnd, s.Ssthresh, "Hystart应把ssthresh钉在当前窗口")
}

// TestCubicHystartDisabled 关闭Hystart后不做延迟探测
func TestCubicHystartDisabled(t *testing.T) {
	cfg := DefaultCubicConfig()
	cfg.HystartEnabled = false
	c := NewCubic(WithCubicConfig(cfg))
	s := NewSocketState(1460, 65535)

	c.PktsAcked(s, 1, 10000, false)
	c.PktsAcked(s, 1, 20000, false)
	assert.Equal(t, SsthreshUnset, s.Ssthresh)
}

// TestCubicTimeout 超时：窗口退回单段并重置CUBIC状态
func TestCubicTimeout(t *testing.T) {
	c := NewCubic()
	s := NewSocketState(1460, 300000)
	s.Cwnd = 146000

	c.CwndEvent(s, EventTimeout)
	assert.Equal(t, uint32(1460), s.Cwnd)
	assert.Equal(t, StateLoss, s.TCPState)
	assert.Equal(t, uint32(0), c.lastMaxCwnd, "超时后W_max应清零")
	assert.Equal(t, float64(0), c.K())
}

// TestCubicECN ECN：按β缩减并进入CWR，epoch重置
func TestCubicECN(t *testing.T) {
	c := NewCubic()
	s := NewSocketState(1460, 300000)
	s.Cwnd = 146000

	c.CwndEvent(s, EventECN)
	assert.Equal(t, s.Ssthresh, s.Cwnd)
	assert.Equal(t, StateCWR, s.TCPState)
}
