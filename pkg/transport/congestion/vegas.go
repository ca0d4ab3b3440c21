package congestion

import (
	"time"

	"github.com/Lzww0608/CongestionControl/pkg/utils/logger"
)

// ------------------------------
// Vegas拥塞控制算法实现（基于延迟的拥塞控制）
// 特点：比较预期吞吐量与实际吞吐量的差值diff，在丢包发生前主动调整窗口
// ------------------------------

const (
	vegasRTTSampleWindow = 100              // RTT采样窗口容量
	vegasBaseRTTWindow   = 10 * time.Second // base RTT有效期，过期后从采样窗口重建
)

// VegasPhase Vegas内部阶段
type VegasPhase uint8

const (
	VegasSlowStart VegasPhase = iota
	VegasCongestionAvoidance
	VegasRecovery
)

func (p VegasPhase) String() string {
	switch p {
	case VegasSlowStart:
		return "SlowStart"
	case VegasCongestionAvoidance:
		return "CongestionAvoidance"
	case VegasRecovery:
		return "Recovery"
	default:
		return "Unknown"
	}
}

// Vegas 延迟驱动的窗口控制器
type Vegas struct {
	baseController
	cfg VegasConfig

	cwnd     uint32 // SocketState镜像（调用期间的本地缓存）
	ssthresh uint32
	maxCwnd  uint32

	phase       VegasPhase
	rttSamples  *rttWindow // 近期RTT样本，base RTT过期时用于重建
	baseRTT     uint32     // 观测到的最小RTT（微秒）
	baseRTTAt   time.Time  // base RTT的更新时间
	currentRTT  uint32     // 最近一次RTT
	minRTTCycle uint32     // 本RTT周期内的最小RTT
	cntRTT      uint32     // 周期内RTT样本计数
	doingVegas  bool       // base RTT已知且不处于恢复期时为真
}

// NewVegas 创建Vegas控制器
func NewVegas(opts ...Option) *Vegas {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	v := &Vegas{
		baseController: newBaseController(AlgorithmVegas, "Vegas", o),
		cfg:            o.vegas,
		ssthresh:       SsthreshUnset,
		maxCwnd:        DefaultMaxCwnd,
		rttSamples:     newRTTWindow(vegasRTTSampleWindow),
		baseRTT:        rttUnset,
		minRTTCycle:    rttUnset,
	}
	v.baseRTTAt = v.clock.Now()
	return v
}

// GetSsThresh 阈值减半（与Reno一致）
func (v *Vegas) GetSsThresh(s *SocketState, bytesInFlight uint32) uint32 {
	if s == nil {
		return v.ssthresh
	}
	v.ssthresh = maxU32(s.Cwnd/2, 2*s.MSS)
	s.Ssthresh = v.ssthresh
	return v.ssthresh
}

// IncreaseWindow 按当前阶段增长窗口
func (v *Vegas) IncreaseWindow(s *SocketState, segmentsAcked uint32) {
	if s == nil || segmentsAcked == 0 || s.MSS == 0 {
		return
	}

	v.cwnd = s.Cwnd
	v.ssthresh = s.Ssthresh
	v.maxCwnd = s.MaxCwnd

	if s.TCPState == StateRecovery {
		v.cwnd = v.fastRecovery(s, segmentsAcked)
		v.phase = VegasRecovery
	} else if v.cwnd < v.ssthresh {
		v.cwnd = v.slowStart(s, segmentsAcked)
		v.phase = VegasSlowStart
	} else {
		v.cwnd = v.congestionAvoidance(s, segmentsAcked)
		v.phase = VegasCongestionAvoidance
	}

	v.cwnd = minU32(v.cwnd, v.maxCwnd)
	v.cwnd = maxU32(v.cwnd, 2*s.MSS)
	s.Cwnd = v.cwnd
}

// PktsAcked 折算RTT样本并维护base RTT
func (v *Vegas) PktsAcked(s *SocketState, segmentsAcked uint32, rttUs uint64, _ bool) {
	if s == nil || segmentsAcked == 0 {
		return
	}
	updateRTTEstimate(s, rttUs)
	if rttUs == 0 {
		return
	}

	v.currentRTT = uint32(rttUs)
	v.updateBaseRTT(uint32(rttUs))

	if uint32(rttUs) < v.minRTTCycle {
		v.minRTTCycle = uint32(rttUs)
	}
	v.cntRTT++

	// base RTT已知后启用Vegas
	if !v.doingVegas && v.baseRTT != rttUnset {
		v.doingVegas = true
	}
}

// CongestionStateSet 记录TCP状态，进入Recovery/Loss时重算阈值并暂停Vegas
func (v *Vegas) CongestionStateSet(s *SocketState, state TCPState) {
	if s == nil {
		return
	}
	s.TCPState = state
	if state == StateRecovery || state == StateLoss {
		v.GetSsThresh(s, 0)
		v.doingVegas = false
	}
}

// CwndEvent 响应拥塞事件
func (v *Vegas) CwndEvent(s *SocketState, event CongestionEvent) {
	if s == nil {
		return
	}
	s.LastEvent = event

	switch event {
	case EventPacketLoss:
		// 丢包退回Reno行为，并在下个干净周期前暂停Vegas
		v.ssthresh = maxU32(s.Cwnd/2, 2*s.MSS)
		s.Ssthresh = v.ssthresh
		v.cwnd = v.ssthresh
		s.Cwnd = v.cwnd
		s.TCPState = StateRecovery
		v.doingVegas = false

	case EventTimeout:
		v.ssthresh = maxU32(s.Cwnd/2, 2*s.MSS)
		s.Ssthresh = v.ssthresh
		v.cwnd = s.MSS
		s.Cwnd = v.cwnd
		s.TCPState = StateLoss
		v.resetState()
		v.log.Debug("Vegas timeout",
			logger.Uint32("cwnd", s.Cwnd),
			logger.Uint32("ssthresh", s.Ssthresh))

	case EventECN:
		v.ssthresh = maxU32(s.Cwnd/2, 2*s.MSS)
		v.cwnd = v.ssthresh
		s.Ssthresh = v.ssthresh
		s.Cwnd = v.cwnd
		s.TCPState = StateCWR
		v.doingVegas = false

	case EventFastRecovery:
		s.TCPState = StateRecovery
		v.doingVegas = false
	}
}

// CongControl 组合入口：事件处理后仅对干净ACK折算RTT
func (v *Vegas) CongControl(s *SocketState, event CongestionEvent, rtt RTTSample) {
	if s == nil {
		return
	}
	v.CwndEvent(s, event)
	if rtt.RTTUs > 0 && isCleanAck(event) {
		v.PktsAcked(s, 1, rtt.RTTUs, false)
	}
}

// BaseRTT 当前base RTT（未知时返回10ms默认值），测试与监控用
func (v *Vegas) BaseRTT() uint32 {
	if v.baseRTT == rttUnset {
		return defaultRTTUs
	}
	return v.baseRTT
}

// Phase 当前内部阶段
func (v *Vegas) Phase() VegasPhase {
	return v.phase
}

// Snapshot 当前私有状态快照
func (v *Vegas) Snapshot() Stats {
	return Stats{
		Algorithm: v.name,
		Mode:      v.phase.String(),
		Cwnd:      v.cwnd,
		Ssthresh:  v.ssthresh,
		BaseRTTUs: v.BaseRTT(),
	}
}

// 慢启动：指数增长，diff超过γ时提前退出
func (v *Vegas) slowStart(s *SocketState, segmentsAcked uint32) uint32 {
	if v.doingVegas && v.shouldExitSlowStart(s) {
		v.ssthresh = v.cwnd
		s.Ssthresh = v.ssthresh
		return v.cwnd
	}

	newCwnd := v.cwnd + segmentsAcked*s.MSS
	if newCwnd > v.ssthresh {
		newCwnd = v.ssthresh
	}
	return minU32(newCwnd, v.maxCwnd)
}

// 拥塞避免：Vegas核心，按diff与α/β阈值的关系调窗
func (v *Vegas) congestionAvoidance(s *SocketState, segmentsAcked uint32) uint32 {
	if !v.doingVegas {
		// Vegas未就绪时退回Reno
		if v.cwnd == 0 {
			return v.cwnd
		}
		mss := s.MSS
		increment := (segmentsAcked * mss * mss) / v.cwnd
		if increment == 0 && segmentsAcked > 0 {
			increment = 1
		}
		return minU32(v.cwnd+increment, v.maxCwnd)
	}

	diff := v.calculateDiff(s)
	mss := s.MSS

	if diff < int64(v.cfg.AlphaSegments) {
		// 链路未打满：增窗
		v.cwnd += mss
	} else if diff > int64(v.cfg.BetaSegments) {
		// 队列堆积：减窗，下限2个MSS
		if v.cwnd > 2*mss {
			v.cwnd -= mss
		}
	}
	// α与β之间：窗口保持不变

	// 重置本周期最小RTT
	v.minRTTCycle = rttUnset

	return minU32(v.cwnd, v.maxCwnd)
}

// 快速恢复：每个重复ACK膨胀一个MSS
func (v *Vegas) fastRecovery(s *SocketState, segmentsAcked uint32) uint32 {
	return minU32(v.cwnd+segmentsAcked*s.MSS, v.maxCwnd)
}

// calculateDiff diff = cwnd段数 * (currentRTT - baseRTT) / baseRTT（报文段）
func (v *Vegas) calculateDiff(s *SocketState) int64 {
	if v.baseRTT == rttUnset || v.baseRTT == 0 || v.currentRTT == 0 {
		return 0
	}
	if s.MSS == 0 {
		return 0
	}

	rttDiff := int64(v.currentRTT) - int64(v.baseRTT)
	cwndSegments := int64(s.Cwnd / s.MSS)
	return cwndSegments * rttDiff / int64(v.baseRTT)
}

// updateBaseRTT 维护base RTT：保留最小值，过期后从采样窗口重建
func (v *Vegas) updateBaseRTT(rttUs uint32) {
	if rttUs == 0 {
		return
	}
	now := v.clock.Now()
	v.rttSamples.push(rttUs, now)
	v.rttSamples.evictBefore(now.Add(-vegasBaseRTTWindow))

	if rttUs < v.baseRTT {
		v.baseRTT = rttUs
		v.baseRTTAt = now
	}

	if now.Sub(v.baseRTTAt) >= vegasBaseRTTWindow {
		if m, ok := v.rttSamples.min(); ok {
			v.baseRTT = m
			v.baseRTTAt = now
		}
	}
}

// shouldExitSlowStart 慢启动退出判定：diff超过γ
func (v *Vegas) shouldExitSlowStart(s *SocketState) bool {
	return v.calculateDiff(s) > int64(v.cfg.GammaSegments)
}

// resetState 超时后清空Vegas状态
func (v *Vegas) resetState() {
	v.doingVegas = false
	v.cntRTT = 0
	v.minRTTCycle = rttUnset
	v.phase = VegasSlowStart
}
