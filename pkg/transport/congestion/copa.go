package congestion

import (
	"time"

	"github.com/Lzww0608/CongestionControl/pkg/utils/logger"
)

// ------------------------------
// Copa拥塞控制算法实现（基于排队延迟的速率控制）
// 特点：以standing RTT与min RTT之差度量排队延迟，velocity控制器围绕目标延迟δ收敛
// ------------------------------

const (
	copaVelocityGain    = 1.0              // velocity调整增益
	copaRTTSampleWindow = 100              // RTT采样窗口容量
	copaMinRTTWindow    = 10 * time.Second // min RTT有效期
	copaRTTSampleMaxAge = 10 * time.Second // 采样窗口的时间淘汰
	copaMinTargetRate   = 1000.0           // 目标速率下限（字节/秒）
)

// CopaMode Copa运行模式
type CopaMode uint8

const (
	CopaSlowStart   CopaMode = iota
	CopaCompetitive          // 与基于丢包的流竞争时使用（不会自动进入）
	CopaVelocity
)

func (m CopaMode) String() string {
	switch m {
	case CopaSlowStart:
		return "SlowStart"
	case CopaCompetitive:
		return "Competitive"
	case CopaVelocity:
		return "Velocity"
	default:
		return "Unknown"
	}
}

// Copa 排队延迟驱动的速率控制器
type Copa struct {
	baseController
	cfg CopaConfig

	cwnd     uint32 // SocketState镜像（调用期间的本地缓存）
	ssthresh uint32
	maxCwnd  uint32

	mode        CopaMode
	rttSamples  *rttWindow // standing RTT的采样来源
	minRTT      uint32     // 观测到的最小RTT（微秒）
	minRTTAt    time.Time
	standingRTT uint32 // 采样窗口均值（含排队延迟）

	velocity      float64 // 速率调整方向与强度，限制在[-1, +1]
	targetRate    uint64  // 目标发送速率（字节/秒）
	prevDirection int     // 上一轮的调整方向（-1/0/+1）
	prevQueueing  float64 // 上一轮的归一化排队延迟

	deliveredBytes uint64 // 累计确认字节数
	rttCount       uint32
}

// NewCopa 创建Copa控制器
func NewCopa(opts ...Option) *Copa {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Copa{
		baseController: newBaseController(AlgorithmCopa, "Copa", o),
		cfg:            o.copa,
		ssthresh:       SsthreshUnset,
		maxCwnd:        DefaultMaxCwnd,
		mode:           CopaSlowStart,
		rttSamples:     newRTTWindow(copaRTTSampleWindow),
		minRTT:         rttUnset,
	}
	if c.cfg.Delta <= 0 {
		c.cfg.Delta = 0.5
	}
	if c.cfg.SSExitThresholdUs == 0 {
		c.cfg.SSExitThresholdUs = 1000
	}
	c.minRTTAt = c.clock.Now()
	if c.cfg.Competitive {
		c.enterCompetitiveMode()
	}
	return c
}

// GetSsThresh Copa缩减：cwnd*(1-δ/2)
func (c *Copa) GetSsThresh(s *SocketState, bytesInFlight uint32) uint32 {
	if s == nil {
		return c.ssthresh
	}
	c.ssthresh = maxU32(uint32(float64(s.Cwnd)*(1.0-c.cfg.Delta/2.0)), 2*s.MSS)
	s.Ssthresh = c.ssthresh
	return c.ssthresh
}

// IncreaseWindow 慢启动指数增长；velocity/competitive模式按目标速率换算窗口
func (c *Copa) IncreaseWindow(s *SocketState, segmentsAcked uint32) {
	if s == nil || segmentsAcked == 0 || s.MSS == 0 {
		return
	}

	c.cwnd = s.Cwnd
	c.ssthresh = s.Ssthresh
	c.maxCwnd = s.MaxCwnd

	if c.mode == CopaSlowStart {
		c.cwnd += segmentsAcked * s.MSS
		if c.shouldExitSlowStart() {
			c.enterVelocityMode()
		}
	} else {
		c.updateCwndFromRate(s)
	}

	c.cwnd = minU32(c.cwnd, c.maxCwnd)
	c.cwnd = maxU32(c.cwnd, 2*s.MSS)
	s.Cwnd = c.cwnd
}

// PktsAcked 折算RTT样本并驱动velocity控制器
func (c *Copa) PktsAcked(s *SocketState, segmentsAcked uint32, rttUs uint64, _ bool) {
	if s == nil || segmentsAcked == 0 {
		return
	}
	updateRTTEstimate(s, rttUs)

	c.cwnd = s.Cwnd
	c.deliveredBytes += uint64(segmentsAcked) * uint64(s.MSS)
	c.rttCount++

	c.updateRTT(rttUs)
	c.rttSamples.evictBefore(c.clock.Now().Add(-copaRTTSampleMaxAge))
	c.checkModeTransition()

	if c.mode == CopaVelocity || c.mode == CopaCompetitive {
		c.velocity = c.calculateVelocity()
		c.targetRate = c.calculateTargetRate()
	}
}

// CongestionStateSet 记录TCP状态，进入Recovery/Loss时重算阈值
func (c *Copa) CongestionStateSet(s *SocketState, state TCPState) {
	if s == nil {
		return
	}
	s.TCPState = state
	if state == StateRecovery || state == StateLoss {
		c.GetSsThresh(s, 0)
	}
}

// CwndEvent 响应拥塞事件
func (c *Copa) CwndEvent(s *SocketState, event CongestionEvent) {
	if s == nil {
		return
	}
	s.LastEvent = event

	switch event {
	case EventPacketLoss:
		// 温和响应：cwnd*(1-δ/2)，下限4个MSS，并重置velocity
		c.cwnd = maxU32(uint32(float64(s.Cwnd)*(1.0-c.cfg.Delta/2.0)), 4*s.MSS)
		s.Cwnd = c.cwnd
		c.velocity = 0
		c.prevDirection = 0

	case EventTimeout:
		c.cwnd = 4 * s.MSS
		s.Cwnd = c.cwnd
		s.TCPState = StateLoss
		c.enterSlowStart()
		c.log.Debug("Copa timeout, re-entering slow start",
			logger.Uint32("cwnd", s.Cwnd))

	case EventECN:
		// ECN按丢包同等处理
		c.cwnd = maxU32(uint32(float64(s.Cwnd)*(1.0-c.cfg.Delta/2.0)), 4*s.MSS)
		s.Cwnd = c.cwnd
		s.TCPState = StateCWR
		c.velocity = 0
		c.prevDirection = 0

	case EventFastRecovery:
		s.TCPState = StateRecovery
	}
}

// CongControl 组合入口：事件处理后仅对干净ACK折算RTT
func (c *Copa) CongControl(s *SocketState, event CongestionEvent, rtt RTTSample) {
	if s == nil {
		return
	}
	c.CwndEvent(s, event)
	if rtt.RTTUs > 0 && isCleanAck(event) {
		c.PktsAcked(s, 1, rtt.RTTUs, false)
	}
}

// Mode 当前运行模式
func (c *Copa) Mode() CopaMode {
	return c.mode
}

// Velocity 当前velocity值，测试与监控用
func (c *Copa) Velocity() float64 {
	return c.velocity
}

// MinRTT 当前min RTT（未知时返回10ms默认值）
func (c *Copa) MinRTT() uint32 {
	if c.minRTT == rttUnset {
		return defaultRTTUs
	}
	return c.minRTT
}

// Snapshot 当前私有状态快照
func (c *Copa) Snapshot() Stats {
	return Stats{
		Algorithm:      c.name,
		Mode:           c.mode.String(),
		Cwnd:           c.cwnd,
		Ssthresh:       c.ssthresh,
		BaseRTTUs:      c.MinRTT(),
		StandingRTTUs:  c.standingRTT,
		Velocity:       c.velocity,
		DeliveredBytes: c.deliveredBytes,
	}
}

// EnterCompetitiveMode 显式切换到竞争模式（与基于丢包的流共存时由使用方调用）
func (c *Copa) EnterCompetitiveMode() {
	c.enterCompetitiveMode()
}

// enterSlowStart 回到慢启动
func (c *Copa) enterSlowStart() {
	c.mode = CopaSlowStart
	c.velocity = 0
	c.prevDirection = 0
}

func (c *Copa) enterCompetitiveMode() {
	c.mode = CopaCompetitive
	c.velocity = 0
}

// enterVelocityMode 进入velocity控制模式
func (c *Copa) enterVelocityMode() {
	c.mode = CopaVelocity
	c.velocity = 0
	c.prevQueueing = c.queueingDelay()
	c.log.Debug("Copa entering velocity mode",
		logger.Uint32("minRTT", c.MinRTT()),
		logger.Uint32("standingRTT", c.standingRTT))
}

// updateRTT 维护min RTT与standing RTT
func (c *Copa) updateRTT(rttUs uint64) {
	if rttUs == 0 {
		return
	}
	now := c.clock.Now()
	c.rttSamples.push(uint32(rttUs), now)

	if uint32(rttUs) < c.minRTT {
		c.minRTT = uint32(rttUs)
		c.minRTTAt = now
	}

	// standing RTT：采样窗口均值
	if m, ok := c.rttSamples.mean(); ok {
		c.standingRTT = m
	}
}

// standingQueueDelay 排队延迟 = standing RTT - min RTT（微秒）
func (c *Copa) standingQueueDelay() uint32 {
	if c.minRTT == rttUnset || c.standingRTT == 0 {
		return 0
	}
	if c.standingRTT > c.minRTT {
		return c.standingRTT - c.minRTT
	}
	return 0
}

// queueingDelay 归一化排队延迟（以min RTT为单位）
func (c *Copa) queueingDelay() float64 {
	minRTT := c.MinRTT()
	if minRTT == 0 {
		return 0
	}
	return float64(c.standingQueueDelay()) / float64(minRTT)
}

// calculateVelocity velocity控制：方向翻转时全步长调整，同向时半步长
func (c *Copa) calculateVelocity() float64 {
	queueing := c.queueingDelay()

	direction := 0
	if queueing < c.cfg.Delta {
		direction = 1 // 低于目标延迟：提速
	} else if queueing > c.cfg.Delta {
		direction = -1 // 高于目标延迟：降速
	}

	var update float64
	if direction != c.prevDirection && c.prevDirection != 0 {
		update = c.cfg.Delta * float64(direction)
	} else if direction != 0 {
		update = 0.5 * c.cfg.Delta * float64(direction)
	}

	velocity := c.velocity + update*copaVelocityGain
	if velocity > 1.0 {
		velocity = 1.0
	} else if velocity < -1.0 {
		velocity = -1.0
	}

	c.prevDirection = direction
	c.prevQueueing = queueing
	return velocity
}

// calculateTargetRate rate(t+1) = rate(t)*(1 + v*δ)，当前速率按cwnd/minRTT折算
func (c *Copa) calculateTargetRate() uint64 {
	if c.minRTT == rttUnset || c.minRTT == 0 {
		return uint64(c.cwnd) * 1000
	}

	currentRate := float64(c.cwnd) * 1e6 / float64(c.minRTT)
	targetRate := currentRate * (1.0 + c.velocity*c.cfg.Delta)
	if targetRate < copaMinTargetRate {
		targetRate = copaMinTargetRate
	}
	return uint64(targetRate)
}

// updateCwndFromRate cwnd = rate*minRTT，向目标每次至多移动一个MSS（平滑）
func (c *Copa) updateCwndFromRate(s *SocketState) {
	if c.targetRate == 0 || c.minRTT == rttUnset {
		return
	}

	newCwnd := uint32(c.targetRate * uint64(c.minRTT) / 1000000)
	if newCwnd > c.cwnd {
		c.cwnd = minU32(newCwnd, c.cwnd+s.MSS)
	} else if newCwnd < c.cwnd {
		c.cwnd = maxU32(newCwnd, c.cwnd-s.MSS)
	}
}

// shouldExitSlowStart 排队延迟超过阈值即离开慢启动
func (c *Copa) shouldExitSlowStart() bool {
	if c.mode != CopaSlowStart {
		return false
	}
	return c.standingQueueDelay() > c.cfg.SSExitThresholdUs
}

// checkModeTransition min RTT过期检查与慢启动退出
func (c *Copa) checkModeTransition() {
	now := c.clock.Now()
	if c.minRTT != rttUnset && now.Sub(c.minRTTAt) >= copaMinRTTWindow {
		// min RTT过期：用采样窗口重建，等待后续更低样本
		if m, ok := c.rttSamples.min(); ok {
			c.minRTT = m
			c.minRTTAt = now
		}
	}

	if c.mode == CopaSlowStart && c.shouldExitSlowStart() {
		c.enterVelocityMode()
	}
}
