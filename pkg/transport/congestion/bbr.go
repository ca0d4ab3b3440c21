package congestion

import (
	"time"

	"github.com/Lzww0608/CongestionControl/pkg/utils/logger"
)

// ------------------------------
// BBR拥塞控制算法实现（Bottleneck Bandwidth and RTT）
// 特点：不依赖丢包信号，按窗口化max-filter估计瓶颈带宽、按时效窗口维护min RTT，
// 通过STARTUP/DRAIN/PROBE_BW/PROBE_RTT四态状态机在BDP附近运行
// ------------------------------

// BBRMode BBR运行模式
type BBRMode uint8

const (
	BBRStartup  BBRMode = iota // 指数探测带宽
	BBRDrain                   // 排空STARTUP期间积压的队列
	BBRProbeBW                 // 周期性探测更高带宽
	BBRProbeRTT                // 压低窗口以重新测量min RTT
)

func (m BBRMode) String() string {
	switch m {
	case BBRStartup:
		return "Startup"
	case BBRDrain:
		return "Drain"
	case BBRProbeBW:
		return "ProbeBW"
	case BBRProbeRTT:
		return "ProbeRTT"
	default:
		return "Unknown"
	}
}

const (
	bbrHighGain         = 289 // STARTUP增益 2/ln(2) ≈ 2.89（整数百分比）
	bbrDrainGain        = 35  // DRAIN增益 ≈ 1/2.89
	bbrProbeBWGain      = 100 // PROBE_BW基准增益
	bbrCwndGain         = 200 // 窗口增益 2.0
	bbrProbeRTTCwndGain = 50  // PROBE_RTT窗口增益 0.5

	bbrBandwidthWindowSize = 10               // 带宽采样窗口（样本数）
	bbrSampleMaxAge        = 60 * time.Second // 采样的绝对时效上限
	bbrMinRTTWindow        = 10 * time.Second // min RTT有效期
	bbrProbeRTTDuration    = 200 * time.Millisecond
	bbrFullPipeRounds      = 3    // 确认管道打满所需的无增长轮数
	bbrFullPipeThreshold   = 1.25 // 带宽增长判定阈值

	bbrRTTSampleWindow = 100 // RTT采样窗口容量
)

// bbrProbeBWGains PROBE_BW的pacing增益循环（整数百分比）
var bbrProbeBWGains = [8]uint32{125, 75, 100, 100, 100, 100, 100, 100}

// BBR 四态状态机控制器，唯一发布pacing速率的算法
type BBR struct {
	baseController

	cwnd    uint32 // SocketState镜像（调用期间的本地缓存）
	maxCwnd uint32
	lastMSS uint32 // 最近一次调用观察到的MSS，用于无SocketState的内部计算

	mode BBRMode

	// 带宽估计
	bwSamples    *bandwidthWindow
	maxBandwidth uint64 // 窗口内最大带宽（字节/秒）

	// RTT估计
	rttSamples *rttWindow
	minRTT     uint32 // 观测到的最小RTT（微秒）
	minRTTAt   time.Time

	// 增益（整数百分比，100 = 1.0）
	pacingGain uint32
	cwndGain   uint32
	pacingRate uint64 // 当前pacing速率（字节/秒）

	// STARTUP的带宽平台期检测
	prevMaxBandwidth    uint64
	roundsWithoutGrowth uint32

	// PROBE_BW增益循环
	probeBWCycleIndex int
	probeBWCycleStart time.Time

	// PROBE_RTT
	probeRTTStart time.Time

	deliveredBytes uint64 // 累计确认字节数
}

// NewBBR 创建BBR控制器
func NewBBR(opts ...Option) *BBR {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	b := &BBR{
		baseController: newBaseController(AlgorithmBBR, "BBR", o),
		maxCwnd:        DefaultMaxCwnd,
		lastMSS:        DefaultMSS,
		mode:           BBRStartup,
		bwSamples:      newBandwidthWindow(bbrBandwidthWindowSize),
		rttSamples:     newRTTWindow(bbrRTTSampleWindow),
		minRTT:         rttUnset,
		pacingGain:     bbrHighGain,
		cwndGain:       bbrCwndGain,
	}
	now := b.clock.Now()
	b.minRTTAt = now
	b.probeBWCycleStart = now
	b.probeRTTStart = now
	return b
}

// GetSsThresh BBR不使用传统慢启动阈值，保持“未设置”哨兵
func (b *BBR) GetSsThresh(s *SocketState, bytesInFlight uint32) uint32 {
	if s != nil {
		s.Ssthresh = SsthreshUnset
	}
	return SsthreshUnset
}

// IncreaseWindow 以BDP为基准向目标窗口收敛
func (b *BBR) IncreaseWindow(s *SocketState, segmentsAcked uint32) {
	if s == nil || segmentsAcked == 0 {
		return
	}

	b.cwnd = s.Cwnd
	b.maxCwnd = s.MaxCwnd
	b.lastMSS = s.MSS

	targetCwnd := b.calculateTargetCwnd(b.cwndGain)

	// PROBE_RTT期间压低窗口以暴露真实传播延迟
	if b.mode == BBRProbeRTT {
		targetCwnd = maxU32(4*s.MSS, targetCwnd/2)
	}

	// 逐步逼近目标而不是跳变
	if b.cwnd < targetCwnd {
		b.cwnd = minU32(b.cwnd+segmentsAcked*s.MSS, targetCwnd)
	} else if b.cwnd > targetCwnd {
		b.cwnd = targetCwnd
	}

	b.cwnd = minU32(b.cwnd, b.maxCwnd)
	b.cwnd = maxU32(b.cwnd, 4*s.MSS)
	s.Cwnd = b.cwnd
}

// PktsAcked BBR主更新入口：带宽/min RTT采样与状态机推进
func (b *BBR) PktsAcked(s *SocketState, segmentsAcked uint32, rttUs uint64, _ bool) {
	if s == nil || segmentsAcked == 0 {
		return
	}
	updateRTTEstimate(s, rttUs)

	b.lastMSS = s.MSS
	b.maxCwnd = s.MaxCwnd
	ackedBytes := uint64(segmentsAcked) * uint64(s.MSS)
	b.deliveredBytes += ackedBytes

	b.update(s, ackedBytes, rttUs)
}

// CongestionStateSet 记录TCP状态；进入Recovery/Loss时调用GetSsThresh（BBR下阈值保持未设置哨兵）
func (b *BBR) CongestionStateSet(s *SocketState, state TCPState) {
	if s == nil {
		return
	}
	s.TCPState = state
	if state == StateRecovery || state == StateLoss {
		b.GetSsThresh(s, 0)
	}
}

// CwndEvent 丢包视为探测噪声不做反应；超时重回STARTUP；ECN仅记录
func (b *BBR) CwndEvent(s *SocketState, event CongestionEvent) {
	if s == nil {
		return
	}
	s.LastEvent = event

	switch event {
	case EventPacketLoss:
		// 带宽探测期间的丢包是预期内的，不缩窗

	case EventTimeout:
		// 超时说明严重拥塞，退回保守状态重新探测
		b.cwnd = 4 * s.MSS
		s.Cwnd = b.cwnd
		b.enterStartup()
		b.log.Debug("BBR timeout, restarting from startup",
			logger.Uint32("cwnd", s.Cwnd))

	case EventECN:
		// 仅作为信息记录
	}
}

// CongControl 组合入口：事件处理后仅对干净ACK折算RTT样本，
// 丢包/超时路径上的陈旧RTT不得进入带宽估计器
func (b *BBR) CongControl(s *SocketState, event CongestionEvent, rtt RTTSample) {
	if s == nil {
		return
	}
	b.CwndEvent(s, event)
	if rtt.RTTUs > 0 && isCleanAck(event) {
		b.PktsAcked(s, 1, rtt.RTTUs, false)
	}
}

// PacingRate 当前pacing速率（字节/秒），由传输层的pacer消费
func (b *BBR) PacingRate() uint64 {
	return b.pacingRate
}

// Mode 当前运行模式
func (b *BBR) Mode() BBRMode {
	return b.mode
}

// MaxBandwidth 当前带宽估计（窗口内最大值）
func (b *BBR) MaxBandwidth() uint64 {
	return b.maxBandwidth
}

// MinRTT 当前min RTT（未知时返回10ms默认值）
func (b *BBR) MinRTT() uint32 {
	if b.minRTT == rttUnset {
		return defaultRTTUs
	}
	return b.minRTT
}

// PacingGain 当前pacing增益（整数百分比）
func (b *BBR) PacingGain() uint32 {
	return b.pacingGain
}

// Snapshot 当前私有状态快照
func (b *BBR) Snapshot() Stats {
	return Stats{
		Algorithm:      b.name,
		Mode:           b.mode.String(),
		Cwnd:           b.cwnd,
		BaseRTTUs:      b.MinRTT(),
		MaxBandwidth:   b.maxBandwidth,
		PacingGain:     b.pacingGain,
		CwndGain:       b.cwndGain,
		PacingRate:     b.pacingRate,
		DeliveredBytes: b.deliveredBytes,
	}
}

// enterStartup 进入STARTUP：高增益快速探测
func (b *BBR) enterStartup() {
	b.mode = BBRStartup
	b.pacingGain = bbrHighGain
	b.cwndGain = bbrCwndGain
	b.roundsWithoutGrowth = 0
	b.prevMaxBandwidth = 0
}

// enterDrain 进入DRAIN：以1/2.89的增益排空队列
func (b *BBR) enterDrain() {
	b.mode = BBRDrain
	b.pacingGain = bbrDrainGain
	b.cwndGain = bbrCwndGain
}

// enterProbeBW 进入PROBE_BW：开始增益循环
func (b *BBR) enterProbeBW() {
	b.mode = BBRProbeBW
	b.pacingGain = bbrProbeBWGain
	b.cwndGain = bbrCwndGain
	b.probeBWCycleIndex = 0
	b.probeBWCycleStart = b.clock.Now()
	b.pacingGain = bbrProbeBWGains[b.probeBWCycleIndex]
}

// enterProbeRTT 进入PROBE_RTT：压低窗口重新测量传播延迟
func (b *BBR) enterProbeRTT() {
	b.mode = BBRProbeRTT
	b.pacingGain = bbrProbeBWGain
	b.cwndGain = bbrProbeRTTCwndGain
	b.probeRTTStart = b.clock.Now()
}

// update BBR主逻辑：采样更新、pacing速率计算与状态机推进
func (b *BBR) update(s *SocketState, ackedBytes uint64, rttUs uint64) {
	prevMode := b.mode

	b.updateBandwidth(ackedBytes, rttUs)
	b.updateMinRTT(rttUs)
	b.cleanupOldSamples()

	b.pacingRate = b.calculatePacingRate(b.pacingGain)

	switch b.mode {
	case BBRStartup:
		if b.isFullPipe() {
			b.enterDrain()
		}

	case BBRDrain:
		// 飞行字节（≈cwnd）降到1倍BDP以下即完成排空
		if s.Cwnd <= b.calculateTargetCwnd(100) {
			b.enterProbeBW()
		}

	case BBRProbeBW:
		b.advanceProbeBWCycle()
		if b.shouldProbeRTT() {
			b.enterProbeRTT()
		}

	case BBRProbeRTT:
		now := b.clock.Now()
		if now.Sub(b.probeRTTStart) >= bbrProbeRTTDuration {
			b.minRTTAt = now
			if b.isFullPipe() {
				b.enterProbeBW()
			} else {
				b.enterStartup()
			}
		}
	}

	if b.mode != prevMode {
		b.log.Debug("BBR mode change",
			logger.String("from", prevMode.String()),
			logger.String("to", b.mode.String()),
			logger.Uint64("maxBandwidth", b.maxBandwidth),
			logger.Uint32("minRTT", b.MinRTT()),
			logger.Uint32("pacingGain", b.pacingGain))
	}
}

// updateBandwidth 带宽采样：bw = ackedBytes*1e6/rtt，窗口化max-filter
func (b *BBR) updateBandwidth(ackedBytes uint64, rttUs uint64) {
	if rttUs == 0 {
		return
	}

	bandwidth := ackedBytes * 1000000 / rttUs
	b.bwSamples.push(bandwidth, b.clock.Now())

	newMax := b.bwSamples.max()

	// STARTUP的平台期检测：增长不足25%计为一轮无增长
	if b.mode == BBRStartup {
		if float64(newMax) < float64(b.prevMaxBandwidth)*bbrFullPipeThreshold {
			b.roundsWithoutGrowth++
		} else {
			b.roundsWithoutGrowth = 0
		}
		b.prevMaxBandwidth = newMax
	}

	b.maxBandwidth = newMax
}

// updateMinRTT min RTT维护：只接受更小样本并刷新时间戳
func (b *BBR) updateMinRTT(rttUs uint64) {
	if rttUs == 0 {
		return
	}
	now := b.clock.Now()
	b.rttSamples.push(uint32(rttUs), now)

	if uint32(rttUs) < b.minRTT {
		b.minRTT = uint32(rttUs)
		b.minRTTAt = now
	}
}

// cleanupOldSamples 按60秒绝对时效淘汰带宽与RTT样本
func (b *BBR) cleanupOldSamples() {
	cutoff := b.clock.Now().Add(-bbrSampleMaxAge)
	b.bwSamples.evictBefore(cutoff)
	b.rttSamples.evictBefore(cutoff)
}

// calculateTargetCwnd 目标窗口 = BDP * gain，下限4个MSS，上限maxCwnd
func (b *BBR) calculateTargetCwnd(gainPercent uint32) uint32 {
	mss := b.lastMSS
	if mss == 0 {
		mss = DefaultMSS
	}
	if b.maxBandwidth == 0 || b.minRTT == rttUnset {
		// 尚无测量，使用默认窗口
		return 4 * mss
	}

	bdp := b.maxBandwidth * uint64(b.minRTT) / 1000000
	targetCwnd := bdp * uint64(gainPercent) / 100

	targetCwnd = maxU64(targetCwnd, uint64(4*mss))
	return uint32(minU64(targetCwnd, uint64(b.maxCwnd)))
}

// calculatePacingRate pacing速率 = 带宽 * gain，下限1000字节/秒
func (b *BBR) calculatePacingRate(gainPercent uint32) uint64 {
	if b.maxBandwidth == 0 {
		// 尚无带宽估计
		return 1000000
	}
	rate := b.maxBandwidth * uint64(gainPercent) / 100
	return maxU64(rate, 1000)
}

// shouldProbeRTT min RTT超过时效窗口即请求PROBE_RTT
func (b *BBR) shouldProbeRTT() bool {
	if b.minRTT == rttUnset {
		return false
	}
	return b.clock.Now().Sub(b.minRTTAt) >= bbrMinRTTWindow
}

// advanceProbeBWCycle 约每个min RTT推进一档增益循环
func (b *BBR) advanceProbeBWCycle() {
	if b.mode != BBRProbeBW {
		return
	}

	now := b.clock.Now()
	elapsed := now.Sub(b.probeBWCycleStart)

	minRTTMs := b.MinRTT() / 1000
	if minRTTMs == 0 {
		minRTTMs = 100
	}

	if elapsed >= time.Duration(minRTTMs)*time.Millisecond {
		b.probeBWCycleIndex = (b.probeBWCycleIndex + 1) % len(bbrProbeBWGains)
		b.pacingGain = bbrProbeBWGains[b.probeBWCycleIndex]
		b.probeBWCycleStart = now
	}
}

// isFullPipe 连续多轮带宽无增长即认为管道已打满
func (b *BBR) isFullPipe() bool {
	return b.roundsWithoutGrowth >= bbrFullPipeRounds
}
