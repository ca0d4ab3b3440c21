package congestion

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

// TestCopaVelocityStep velocity步进
// 场景：min_rtt=10000µs，standing_rtt=15000µs → 归一化排队延迟恰为δ，direction=0；
// 随后standing_rtt升到18000µs → 0.8>δ，首次转向走半步：velocity=-0.25
func TestCopaVelocityStep(t *testing.T) {
	c := NewCopa()
	s := NewSocketState(1460, 65535)

	// 样本10000、20000：min=10000，standing=15000，排队延迟5000µs>1ms → 进入velocity模式
	c.PktsAcked(s, 1, 10000, false)
	c.PktsAcked(s, 1, 20000, false)
	assert.Equal(t, CopaVelocity, c.Mode(), "排队延迟超阈值后应进入velocity模式")
	assert.Equal(t, uint32(10000), c.MinRTT())
	assert.Equal(t, uint32(15000), c.standingRTT)
	assert.Equal(t, 0.0, c.Velocity(), "归一化排队延迟等于δ时direction=0，velocity不动")

	// 第三个样本24000：standing=(10000+20000+24000)/3=18000 → 0.8>δ
	c.PktsAcked(s, 1, 24000, false)
	assert.Equal(t, uint32(18000), c.standingRTT)
	assert.InDelta(t, -0.25, c.Velocity(), 1e-9,
		"首次转向（prev_direction=0）应走半步：-0.5*δ")
}

// TestCopaVelocityClamp velocity始终落在[-1, +1]
func TestCopaVelocityClamp(t *testing.T) {
	c := NewCopa()
	s := NewSocketState(1460, 65535)

	c.PktsAcked(s, 1, 10000, false)
	// 持续的高排队延迟驱动velocity向下
	for i := 0; i < 20; i++ {
		c.PktsAcked(s, 1, 40000, false)
		v := c.Velocity()
		assert.GreaterOrEqual(t, v, -1.0, "velocity不应低于-1（第%d步）", i)
		assert.LessOrEqual(t, v, 1.0, "velocity不应高于+1（第%d步）", i)
	}
	assert.Equal(t, -1.0, c.Velocity(), "持续同向压力下velocity应到达下界")
}

// TestCopaSlowStartGrowth 慢启动阶段指数增长
func TestCopaSlowStartGrowth(t *testing.T) {
	c := NewCopa()
	s := NewSocketState(1460, 65535)

	c.PktsAcked(s, 1, 10000, false)
	c.IncreaseWindow(s, 2)
	assert.Equal(t, uint32(5840+2*1460), s.Cwnd)
	assert.Equal(t, CopaSlowStart, c.Mode())
}

// TestCopaCwndSmoothing velocity模式下窗口每步至多移动一个MSS
func TestCopaCwndSmoothing(t *testing.T) {
	c := NewCopa()
	s := NewSocketState(1460, 65535)

	c.PktsAcked(s, 1, 10000, false)
	c.PktsAcked(s, 1, 20000, false)
	assert.Equal(t, CopaVelocity, c.Mode())

	for i := 0; i < 5; i++ {
		before := s.Cwnd
		c.PktsAcked(s, 1, 20000, false)
		c.IncreaseWindow(s, 1)
		var delta uint32
		if s.Cwnd > before {
			delta = s.Cwnd - before
		} else {
			delta = before - s.Cwnd
		}
		assert.LessOrEqual(t, delta, uint32(1460), "单步窗口变化不应超过一个MSS")
	}
}

// TestCopaPacketLoss 丢包：cwnd*(1-δ/2)，下限4个MSS，velocity重置
func TestCopaPacketLoss(t *testing.T) {
	c := NewCopa()
	s := NewSocketState(1460, 65535)
	s.Cwnd = 29200

	c.PktsAcked(s, 1, 10000, false)
	c.CwndEvent(s, EventPacketLoss)
	assert.Equal(t, uint32(float64(29200)*(1.0-0.5/2.0)), s.Cwnd, "丢包缩窗应为cwnd*(1-δ/2)")
	assert.Equal(t, 0.0, c.Velocity())

	// 小窗口时下限4个MSS
	s.Cwnd = 5840
	c.CwndEvent(s, EventPacketLoss)
	assert.Equal(t, uint32(4*1460), s.Cwnd)
}

// TestCopaTimeout 超时：窗口退回4个MSS并重回慢启动
func TestCopaTimeout(t *testing.T) {
	c := NewCopa()
	s := NewSocketState(1460, 65535)
	s.Cwnd = 29200

	c.PktsAcked(s, 1, 10000, false)
	c.PktsAcked(s, 1, 20000, false)
	assert.Equal(t, CopaVelocity, c.Mode())

	c.CwndEvent(s, EventTimeout)
	assert.Equal(t, uint32(4*1460), s.Cwnd)
	assert.Equal(t, StateLoss, s.TCPState)
	assert.Equal(t, CopaSlowStart, c.Mode(), "超时后应重回慢启动")
}

// TestCopaECN ECN与丢包同等处理
func TestCopaECN(t *testing.T) {
	c := NewCopa()
	s := NewSocketState(1460, 65535)
	s.Cwnd = 29200

	c.CwndEvent(s, EventECN)
	assert.Equal(t, uint32(float64(29200)*0.75), s.Cwnd)
	assert.Equal(t, StateCWR, s.TCPState)
}

// TestCopaMinRTTAging min RTT过期后由近期样本重建
func TestCopaMinRTTAging(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCopa(WithClock(clock))
	s := NewSocketState(1460, 65535)

	c.PktsAcked(s, 1, 10000, false)
	assert.Equal(t, uint32(10000), c.MinRTT())

	clock.Advance(11 * time.Second)
	c.PktsAcked(s, 1, 30000, false)
	assert.Equal(t, uint32(30000), c.MinRTT(), "过期后min RTT应从近期样本重建")
}

// TestCopaGetSsThresh 阈值缩减为cwnd*(1-δ/2)
func TestCopaGetSsThresh(t *testing.T) {
	c := NewCopa()
	s := NewSocketState(1460, 65535)
	s.Cwnd = 29200

	got := c.GetSsThresh(s, 0)
	assert.Equal(t, uint32(float64(29200)*0.75), got)
	assert.Equal(t, got, s.Ssthresh)
}

// TestCopaCompetitiveMode 竞争模式只能显式进入
func TestCopaCompetitiveMode(t *testing.T) {
	c := NewCopa()
	assert.Equal(t, CopaSlowStart, c.Mode())

	c.EnterCompetitiveMode()
	assert.Equal(t, CopaCompetitive, c.Mode())
}
