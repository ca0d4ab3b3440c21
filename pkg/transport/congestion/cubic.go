package congestion

import (
	"math"
	"time"

	"github.com/Lzww0608/CongestionControl/pkg/utils/logger"
)

// ------------------------------
// CUBIC拥塞控制算法实现（TCP CUBIC）
// 特点：窗口按三次曲线随时间增长，与RTT解耦；可选TCP友好区间与Hystart提前退出
// ------------------------------

const (
	cubicBeta = 0.7 // 丢包后窗口缩减系数
	cubicC    = 0.4 // 三次曲线系数
)

// Cubic 三次曲线窗口控制器
type Cubic struct {
	baseController
	cfg CubicConfig

	cwnd     uint32 // SocketState镜像（调用期间的本地缓存）
	ssthresh uint32
	maxCwnd  uint32

	lastMaxCwnd uint32    // 上次丢包时的窗口W_max
	k           float64   // 曲线拐点：窗口恢复到W_max所需秒数
	tcpCwnd     uint32    // TCP友好区间的Reno窗口估计
	epochStart  time.Time // 当前拥塞epoch的起点
	ackCount    uint32    // 距上次增窗以来的ACK计数
	delayMin    uint32    // 观测到的最小RTT（微秒）

	// Hystart一轮内的延迟极值
	hystartDelayMin uint32
	hystartDelayMax uint32
}

// NewCubic 创建CUBIC控制器
func NewCubic(opts ...Option) *Cubic {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cubic{
		baseController:  newBaseController(AlgorithmCUBIC, "CUBIC", o),
		cfg:             o.cubic,
		ssthresh:        SsthreshUnset,
		maxCwnd:         DefaultMaxCwnd,
		delayMin:        rttUnset,
		hystartDelayMin: rttUnset,
	}
	c.epochStart = c.clock.Now()
	return c
}

// GetSsThresh 按β=0.7缩减；开启fast convergence时在窗口回落阶段额外下调W_max
func (c *Cubic) GetSsThresh(s *SocketState, bytesInFlight uint32) uint32 {
	if s == nil {
		return c.ssthresh
	}

	if c.cfg.FastConvergence && s.Cwnd < c.lastMaxCwnd {
		c.lastMaxCwnd = uint32(float64(s.Cwnd) * (2.0 - cubicBeta) / 2.0)
	} else {
		c.lastMaxCwnd = s.Cwnd
	}

	c.ssthresh = maxU32(uint32(float64(s.Cwnd)*cubicBeta), 2*s.MSS)
	s.Ssthresh = c.ssthresh

	c.calculateK(s.MSS)
	return c.ssthresh
}

// IncreaseWindow 按当前阶段增长窗口
func (c *Cubic) IncreaseWindow(s *SocketState, segmentsAcked uint32) {
	if s == nil || segmentsAcked == 0 || s.MSS == 0 {
		return
	}

	c.cwnd = s.Cwnd
	c.ssthresh = s.Ssthresh
	c.maxCwnd = s.MaxCwnd

	if s.TCPState == StateRecovery {
		c.cwnd = c.fastRecovery(s, segmentsAcked)
	} else if c.cwnd < c.ssthresh {
		c.cwnd = c.slowStart(s, segmentsAcked)
	} else {
		c.cubicUpdate(s)
	}

	c.cwnd = minU32(c.cwnd, c.maxCwnd)
	s.Cwnd = c.cwnd
}

// PktsAcked 折算RTT样本；慢启动阶段同时驱动Hystart延迟探测
func (c *Cubic) PktsAcked(s *SocketState, segmentsAcked uint32, rttUs uint64, _ bool) {
	if s == nil || segmentsAcked == 0 {
		return
	}
	updateRTTEstimate(s, rttUs)

	if rttUs > 0 && uint32(rttUs) < c.delayMin {
		c.delayMin = uint32(rttUs)
	}

	// Hystart：一轮内RTT抖动超过阈值说明队列开始建立，提前结束慢启动
	if c.cfg.HystartEnabled && rttUs > 0 && s.Cwnd < s.Ssthresh {
		if uint32(rttUs) < c.hystartDelayMin {
			c.hystartDelayMin = uint32(rttUs)
		}
		if uint32(rttUs) > c.hystartDelayMax {
			c.hystartDelayMax = uint32(rttUs)
		}

		if c.hystartDelayMin != rttUnset &&
			c.hystartDelayMax-c.hystartDelayMin > c.cfg.HystartAckDeltaUs {
			c.ssthresh = s.Cwnd
			s.Ssthresh = c.ssthresh
			c.log.Debug("CUBIC hystart exit",
				logger.Uint32("cwnd", s.Cwnd),
				logger.Uint32("delayMin", c.hystartDelayMin),
				logger.Uint32("delayMax", c.hystartDelayMax))
		}
	}

	c.ackCount += segmentsAcked
}

// CongestionStateSet 记录TCP状态，进入Recovery/Loss时重算阈值
func (c *Cubic) CongestionStateSet(s *SocketState, state TCPState) {
	if s == nil {
		return
	}
	s.TCPState = state
	if state == StateRecovery || state == StateLoss {
		c.GetSsThresh(s, 0)
	}
}

// CwndEvent 响应拥塞事件
func (c *Cubic) CwndEvent(s *SocketState, event CongestionEvent) {
	if s == nil {
		return
	}
	s.LastEvent = event

	switch event {
	case EventPacketLoss, EventTimeout:
		c.GetSsThresh(s, 0)

		if event == EventTimeout {
			c.cwnd = s.MSS
			s.Cwnd = c.cwnd
			s.TCPState = StateLoss
			c.reset()
		} else {
			c.cwnd = c.ssthresh
			s.Cwnd = c.cwnd
			s.TCPState = StateRecovery
		}

		// 重置epoch与Hystart一轮极值
		c.epochStart = c.clock.Now()
		c.ackCount = 0
		c.tcpCwnd = 0
		c.hystartDelayMin = rttUnset
		c.hystartDelayMax = 0
		c.log.Debug("CUBIC window reduced",
			logger.String("event", event.String()),
			logger.Uint32("cwnd", s.Cwnd),
			logger.Uint32("lastMaxCwnd", c.lastMaxCwnd),
			logger.Float64("k", c.k))

	case EventECN:
		c.GetSsThresh(s, 0)
		c.cwnd = c.ssthresh
		s.Cwnd = c.cwnd
		s.TCPState = StateCWR
		c.epochStart = c.clock.Now()

	case EventFastRecovery:
		s.TCPState = StateRecovery
	}
}

// CongControl 组合入口：事件处理后仅对干净ACK折算RTT
func (c *Cubic) CongControl(s *SocketState, event CongestionEvent, rtt RTTSample) {
	if s == nil {
		return
	}
	c.CwndEvent(s, event)
	if rtt.RTTUs > 0 && isCleanAck(event) {
		c.PktsAcked(s, 1, rtt.RTTUs, false)
	}
}

// K 当前曲线拐点（秒），测试与监控用
func (c *Cubic) K() float64 {
	return c.k
}

// Snapshot 当前私有状态快照
func (c *Cubic) Snapshot() Stats {
	return Stats{
		Algorithm:   c.name,
		Cwnd:        c.cwnd,
		Ssthresh:    c.ssthresh,
		LastMaxCwnd: c.lastMaxCwnd,
		K:           c.k,
	}
}

// 慢启动：指数增长，封顶到ssthresh
func (c *Cubic) slowStart(s *SocketState, segmentsAcked uint32) uint32 {
	newCwnd := c.cwnd + segmentsAcked*s.MSS
	if newCwnd > c.ssthresh {
		newCwnd = c.ssthresh
		// 离开慢启动时清掉Hystart一轮极值
		c.hystartDelayMin = rttUnset
		c.hystartDelayMax = 0
	}
	return minU32(newCwnd, c.maxCwnd)
}

// 快速恢复：每个重复ACK膨胀一个MSS
func (c *Cubic) fastRecovery(s *SocketState, segmentsAcked uint32) uint32 {
	return minU32(c.cwnd+segmentsAcked*s.MSS, c.maxCwnd)
}

// cubicUpdate CUBIC拥塞避免核心：按三次曲线目标决定增窗节奏
func (c *Cubic) cubicUpdate(s *SocketState) {
	mss := s.MSS
	c.ackCount++

	t := c.clock.Now().Sub(c.epochStart).Seconds()
	cubicTarget := c.cubicWindow(t, mss)

	// TCP友好区间：低速场景下不应慢于Reno
	if c.cfg.TCPFriendly && s.RTTUs > 0 {
		rttSec := float64(s.RTTUs) / 1e6
		if c.tcpCwnd == 0 {
			c.tcpCwnd = c.cwnd
		}
		tcpIncrement := (3.0 * cubicBeta / (2.0 - cubicBeta)) * (t / rttSec) * float64(mss)
		c.tcpCwnd = uint32(float64(c.lastMaxCwnd)*(1.0-cubicBeta) + tcpIncrement)
		if c.tcpCwnd > cubicTarget {
			cubicTarget = c.tcpCwnd
		}
	}

	if cubicTarget > c.cwnd {
		// 每cnt = cwnd/delta个ACK增长一个MSS
		delta := cubicTarget - c.cwnd
		cnt := c.cwnd / delta
		if cnt == 0 {
			cnt = 1
		}
		if c.ackCount >= cnt {
			c.cwnd += mss
			c.ackCount = 0
		}
	} else {
		// 已在目标之上：每一个窗口的ACK才增长一个MSS
		if c.ackCount >= c.cwnd/mss {
			c.cwnd += mss
			c.ackCount = 0
		}
	}
}

// cubicWindow W(t) = C*(t-K)^3*MSS + W_max
func (c *Cubic) cubicWindow(t float64, mss uint32) uint32 {
	deltaT := t - c.k
	target := float64(c.lastMaxCwnd) + cubicC*deltaT*deltaT*deltaT*float64(mss)
	if target < 0 {
		return 0
	}
	return uint32(target)
}

// calculateK K = ∛(W_max*(1-β)/C)，W_max以报文段计
func (c *Cubic) calculateK(mss uint32) {
	if c.lastMaxCwnd == 0 || mss == 0 {
		c.k = 0
		return
	}
	wMaxSegments := float64(c.lastMaxCwnd) / float64(mss)
	kCubed := wMaxSegments * (1.0 - cubicBeta) / cubicC
	if kCubed < 0 {
		c.k = 0
		return
	}
	c.k = math.Cbrt(kCubed)
}

// reset 超时后清空epoch状态
func (c *Cubic) reset() {
	c.lastMaxCwnd = 0
	c.k = 0
	c.ackCount = 0
	c.tcpCwnd = 0
	c.delayMin = rttUnset
	c.hystartDelayMin = rttUnset
	c.hystartDelayMax = 0
	c.epochStart = c.clock.Now()
}
