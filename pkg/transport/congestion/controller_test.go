package congestion

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

// TestNewController 测试工厂按算法标识创建控制器
func TestNewController(t *testing.T) {
	tests := []struct {
		algorithm Algorithm
		wantName  string
	}{
		{AlgorithmReno, "Reno"},
		{AlgorithmBIC, "BIC"},
		{AlgorithmCUBIC, "CUBIC"},
		{AlgorithmDCTCP, "DCTCP"},
		{AlgorithmVegas, "Vegas"},
		{AlgorithmCopa, "Copa"},
		{AlgorithmBBR, "BBR"},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			ctrl, err := New(tt.algorithm)
			assert.NoError(t, err, "创建控制器不应出错")
			assert.Equal(t, tt.wantName, ctrl.AlgorithmName(), "算法名称应匹配")
			assert.Equal(t, tt.algorithm, ctrl.Algorithm(), "算法标识应匹配")
			assert.True(t, ctrl.HasCongControl(), "拥塞控制应处于启用状态")
		})
	}

	_, err := New(Algorithm(200))
	assert.Error(t, err, "未知算法应返回错误")
}

// TestParseAlgorithm 测试算法名称解析
func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("bbr")
	assert.NoError(t, err)
	assert.Equal(t, AlgorithmBBR, a)

	a, err = ParseAlgorithm("Copa")
	assert.NoError(t, err)
	assert.Equal(t, AlgorithmCopa, a, "Copa应拥有独立的算法标识")

	_, err = ParseAlgorithm("westwood")
	assert.Error(t, err, "不支持的算法应返回错误")
}

// TestNewSocketState 测试SocketState初始化惯例
func TestNewSocketState(t *testing.T) {
	s := NewSocketState(1460, 65535)
	assert.Equal(t, uint32(4*1460), s.Cwnd, "初始窗口应为4个MSS")
	assert.Equal(t, SsthreshUnset, s.Ssthresh, "初始阈值应为未设置哨兵")
	assert.Equal(t, StateOpen, s.TCPState)
	assert.True(t, s.InSlowStart())

	// 零值参数取默认
	s = NewSocketState(0, 0)
	assert.Equal(t, DefaultMSS, s.MSS)
	assert.Equal(t, DefaultMaxCwnd, s.MaxCwnd)
}

// TestNilSocketStateIsNoop 测试所有入口对nil SocketState的防御性
func TestNilSocketStateIsNoop(t *testing.T) {
	for _, a := range []Algorithm{
		AlgorithmReno, AlgorithmBIC, AlgorithmCUBIC, AlgorithmDCTCP,
		AlgorithmVegas, AlgorithmCopa, AlgorithmBBR,
	} {
		ctrl, err := New(a)
		assert.NoError(t, err)
		assert.NotPanics(t, func() {
			ctrl.GetSsThresh(nil, 0)
			ctrl.IncreaseWindow(nil, 1)
			ctrl.PktsAcked(nil, 1, 50000, false)
			ctrl.CongestionStateSet(nil, StateRecovery)
			ctrl.CwndEvent(nil, EventPacketLoss)
			ctrl.CongControl(nil, EventPacketLoss, RTTSample{RTTUs: 50000})
		}, "%s：nil SocketState应为空操作", a)
	}
}

// TestZeroSegmentsIsNoop 测试segmentsAcked为0时窗口不变
func TestZeroSegmentsIsNoop(t *testing.T) {
	for _, a := range []Algorithm{
		AlgorithmReno, AlgorithmBIC, AlgorithmCUBIC, AlgorithmDCTCP,
		AlgorithmVegas, AlgorithmCopa, AlgorithmBBR,
	} {
		ctrl, _ := New(a)
		s := NewSocketState(1460, 65535)
		before := s.Cwnd
		ctrl.IncreaseWindow(s, 0)
		assert.Equal(t, before, s.Cwnd, "%s：零段ACK不应改变窗口", a)
	}
}

// TestUniversalInvariants 对所有算法施加一段混合事件序列，检查通用不变式
func TestUniversalInvariants(t *testing.T) {
	for _, a := range []Algorithm{
		AlgorithmReno, AlgorithmBIC, AlgorithmCUBIC, AlgorithmDCTCP,
		AlgorithmVegas, AlgorithmCopa, AlgorithmBBR,
	} {
		t.Run(a.String(), func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			ctrl, err := New(a, WithClock(clock))
			assert.NoError(t, err)
			s := NewSocketState(1460, 65535)

			events := []CongestionEvent{
				EventSlowStart, EventSlowStart, EventPacketLoss,
				EventCongestionAvoidance, EventECN, EventCongestionAvoidance,
				EventTimeout, EventSlowStart, EventReordering,
				EventFastRecovery, EventCongestionAvoidance,
			}
			for i, ev := range events {
				ctrl.CwndEvent(s, ev)
				ctrl.PktsAcked(s, 2, uint64(40000+i*1000), false)
				ctrl.IncreaseWindow(s, 2)

				assert.GreaterOrEqual(t, s.Cwnd, s.MSS,
					"窗口不应低于1个MSS（事件%d）", i)
				assert.LessOrEqual(t, s.Cwnd, s.MaxCwnd,
					"窗口不应超过上限（事件%d）", i)
				if s.Ssthresh != SsthreshUnset {
					assert.GreaterOrEqual(t, s.Ssthresh, 2*s.MSS,
						"已设置的阈值不应低于2个MSS（事件%d）", i)
				}
				assert.Equal(t, s.RTTUs+4*s.RTTVarUs, s.RTOUs,
					"RTO应等于rtt+4*rttVar（事件%d）", i)
			}
		})
	}
}

// TestSnapshot 每个控制器的快照应携带算法名与自己的关键内部状态
func TestSnapshot(t *testing.T) {
	s := NewSocketState(1460, 65535)

	reno := NewReno()
	reno.IncreaseWindow(s, 1)
	snap := reno.Snapshot()
	assert.Equal(t, "Reno", snap.Algorithm)
	assert.Equal(t, s.Cwnd, snap.Cwnd)

	bic := NewBIC()
	s = NewSocketState(1460, 65535)
	s.Cwnd = 29200
	bic.CwndEvent(s, EventPacketLoss)
	assert.Equal(t, uint32(29200), bic.Snapshot().LastMaxCwnd, "快照应携带W_max")

	cubic := NewCubic()
	s = NewSocketState(1460, 300000)
	s.Cwnd = 146000
	cubic.CwndEvent(s, EventPacketLoss)
	snap = cubic.Snapshot()
	assert.Equal(t, uint32(146000), snap.LastMaxCwnd)
	assert.InDelta(t, cubic.K(), snap.K, 1e-12, "快照应携带曲线拐点K")

	dctcp := NewDCTCP()
	assert.Equal(t, 1.0, dctcp.Snapshot().Alpha, "快照应携带α估计")

	vegas := NewVegas()
	s = NewSocketState(1460, 65535)
	vegas.PktsAcked(s, 1, 10000, false)
	snap = vegas.Snapshot()
	assert.Equal(t, "SlowStart", snap.Mode)
	assert.Equal(t, uint32(10000), snap.BaseRTTUs)

	copa := NewCopa()
	s = NewSocketState(1460, 65535)
	copa.PktsAcked(s, 1, 10000, false)
	copa.PktsAcked(s, 1, 20000, false)
	snap = copa.Snapshot()
	assert.Equal(t, "Velocity", snap.Mode)
	assert.Equal(t, uint32(10000), snap.BaseRTTUs)
	assert.Equal(t, uint32(15000), snap.StandingRTTUs)

	bbr := NewBBR()
	s = NewSocketState(1460, 65535)
	bbr.PktsAcked(s, 1, 50000, false)
	snap = bbr.Snapshot()
	assert.Equal(t, "Startup", snap.Mode)
	assert.Equal(t, uint32(bbrHighGain), snap.PacingGain)
	assert.Equal(t, bbr.MaxBandwidth(), snap.MaxBandwidth)
	assert.Equal(t, bbr.PacingRate(), snap.PacingRate)
}

// TestRTTEstimator 测试平滑RTT估计器的种子与EWMA行为
func TestRTTEstimator(t *testing.T) {
	s := NewSocketState(1460, 65535)

	updateRTTEstimate(s, 50000)
	assert.Equal(t, uint32(50000), s.RTTUs)
	assert.Equal(t, uint32(25000), s.RTTVarUs, "首个样本的方差应为rtt/2")
	assert.Equal(t, uint32(150000), s.RTOUs)

	updateRTTEstimate(s, 50000)
	assert.Equal(t, uint32((3*25000+50000)/4), s.RTTVarUs, "方差应按(3*var+new)/4平滑")

	// 零RTT不得污染估计器
	prev := *s
	updateRTTEstimate(s, 0)
	assert.Equal(t, prev, *s, "零RTT样本应被丢弃")
}

// TestSampleWindows 测试环形采样窗口的容量与淘汰行为
func TestSampleWindows(t *testing.T) {
	clock := clockwork.NewFakeClock()

	w := newRTTWindow(3)
	w.push(300, clock.Now())
	w.push(100, clock.Now())
	w.push(200, clock.Now())
	assert.Equal(t, 3, w.len())

	m, ok := w.min()
	assert.True(t, ok)
	assert.Equal(t, uint32(100), m)

	mean, ok := w.mean()
	assert.True(t, ok)
	assert.Equal(t, uint32(200), mean)

	// 写满后覆盖最旧样本
	w.push(400, clock.Now())
	assert.Equal(t, 3, w.len(), "窗口容量不应超过上限")
	m, _ = w.min()
	assert.Equal(t, uint32(100), m, "最旧样本300应被覆盖")

	// 时间淘汰
	clock.Advance(61 * time.Second)
	w.evictBefore(clock.Now().Add(-60 * time.Second))
	assert.Equal(t, 0, w.len(), "超龄样本应被全部淘汰")

	bw := newBandwidthWindow(2)
	bw.push(1000, clock.Now())
	bw.push(3000, clock.Now())
	bw.push(2000, clock.Now())
	assert.Equal(t, 2, bw.len())
	assert.Equal(t, uint64(3000), bw.max(), "max-filter应返回窗口内最大值")
}
