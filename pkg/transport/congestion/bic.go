package congestion

import (
	"time"

	"github.com/Lzww0608/CongestionControl/pkg/utils/logger"
)

// ------------------------------
// BIC拥塞控制算法实现（Binary Increase Congestion control）
// 特点：以二分搜索逼近上次丢包时的窗口W_max，越过W_max后转为缓慢探测
// ------------------------------

const (
	bicBeta         = 0.8 // 丢包后窗口缩减系数
	bicMaxIncrement = 32  // Smax：单次最大增量（报文段）
	bicMinIncrement = 1   // Smin：单次最小增量（报文段）
)

// BIC 二分搜索窗口增长控制器
type BIC struct {
	baseController

	cwnd     uint32 // SocketState镜像（调用期间的本地缓存）
	ssthresh uint32
	maxCwnd  uint32

	lastMaxCwnd uint32    // 上次丢包时的窗口W_max
	minWin      uint32    // 缩减后的窗口下界
	foundNewMax bool      // 本轮epoch是否已越过W_max
	ackCount    uint32    // ACK计数
	epochStart  time.Time // 当前拥塞epoch的起点
}

// NewBIC 创建BIC控制器
func NewBIC(opts ...Option) *BIC {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	b := &BIC{
		baseController: newBaseController(AlgorithmBIC, "BIC", o),
		ssthresh:       SsthreshUnset,
		maxCwnd:        DefaultMaxCwnd,
	}
	b.epochStart = b.clock.Now()
	return b
}

// GetSsThresh 保存W_max并按β=0.8缩减
func (b *BIC) GetSsThresh(s *SocketState, bytesInFlight uint32) uint32 {
	if s == nil {
		return b.ssthresh
	}
	b.lastMaxCwnd = s.Cwnd
	b.ssthresh = maxU32(uint32(float64(s.Cwnd)*bicBeta), 2*s.MSS)
	s.Ssthresh = b.ssthresh
	return b.ssthresh
}

// IncreaseWindow 按当前阶段增长窗口
func (b *BIC) IncreaseWindow(s *SocketState, segmentsAcked uint32) {
	if s == nil || segmentsAcked == 0 || s.MSS == 0 {
		return
	}

	b.cwnd = s.Cwnd
	b.ssthresh = s.Ssthresh
	b.maxCwnd = s.MaxCwnd

	if s.TCPState == StateRecovery {
		b.cwnd = b.fastRecovery(s, segmentsAcked)
	} else if b.cwnd < b.ssthresh {
		b.cwnd = b.slowStart(s, segmentsAcked)
	} else {
		b.bicUpdate(s)
	}

	b.cwnd = minU32(b.cwnd, b.maxCwnd)
	s.Cwnd = b.cwnd
}

// PktsAcked 折算RTT样本并累计ACK计数
func (b *BIC) PktsAcked(s *SocketState, segmentsAcked uint32, rttUs uint64, _ bool) {
	if s == nil || segmentsAcked == 0 {
		return
	}
	updateRTTEstimate(s, rttUs)
	b.ackCount += segmentsAcked
}

// CongestionStateSet 记录TCP状态，进入Recovery/Loss时重算阈值并重置epoch边界
func (b *BIC) CongestionStateSet(s *SocketState, state TCPState) {
	if s == nil {
		return
	}
	s.TCPState = state
	if state == StateRecovery || state == StateLoss {
		b.GetSsThresh(s, 0)
		b.minWin = b.ssthresh
		b.foundNewMax = false
	}
}

// CwndEvent 响应拥塞事件
func (b *BIC) CwndEvent(s *SocketState, event CongestionEvent) {
	if s == nil {
		return
	}
	s.LastEvent = event

	switch event {
	case EventPacketLoss, EventTimeout:
		if s.Cwnd > b.lastMaxCwnd {
			b.lastMaxCwnd = s.Cwnd
		}

		b.GetSsThresh(s, 0)
		b.minWin = b.ssthresh
		b.foundNewMax = false

		if event == EventTimeout {
			b.cwnd = s.MSS
			s.Cwnd = b.cwnd
			s.TCPState = StateLoss
			b.reset()
		} else {
			b.cwnd = b.ssthresh
			s.Cwnd = b.cwnd
			s.TCPState = StateRecovery
		}

		b.epochStart = b.clock.Now()
		b.ackCount = 0
		b.log.Debug("BIC window reduced",
			logger.String("event", event.String()),
			logger.Uint32("cwnd", s.Cwnd),
			logger.Uint32("lastMaxCwnd", b.lastMaxCwnd))

	case EventECN:
		b.GetSsThresh(s, 0)
		b.cwnd = b.ssthresh
		s.Cwnd = b.cwnd
		s.TCPState = StateCWR
		b.minWin = b.ssthresh
		b.foundNewMax = false
		b.epochStart = b.clock.Now()

	case EventFastRecovery:
		s.TCPState = StateRecovery
	}
}

// CongControl 组合入口：事件处理后仅对干净ACK折算RTT
func (b *BIC) CongControl(s *SocketState, event CongestionEvent, rtt RTTSample) {
	if s == nil {
		return
	}
	b.CwndEvent(s, event)
	if rtt.RTTUs > 0 && isCleanAck(event) {
		b.PktsAcked(s, 1, rtt.RTTUs, false)
	}
}

// Snapshot 当前私有状态快照
func (b *BIC) Snapshot() Stats {
	return Stats{
		Algorithm:   b.name,
		Cwnd:        b.cwnd,
		Ssthresh:    b.ssthresh,
		LastMaxCwnd: b.lastMaxCwnd,
	}
}

// 慢启动：指数增长（与Reno一致）
func (b *BIC) slowStart(s *SocketState, segmentsAcked uint32) uint32 {
	newCwnd := b.cwnd + segmentsAcked*s.MSS
	if newCwnd > b.ssthresh {
		newCwnd = b.ssthresh
	}
	return minU32(newCwnd, b.maxCwnd)
}

// 快速恢复：每个重复ACK膨胀一个MSS
func (b *BIC) fastRecovery(s *SocketState, segmentsAcked uint32) uint32 {
	return minU32(b.cwnd+segmentsAcked*s.MSS, b.maxCwnd)
}

// bicUpdate BIC拥塞避免核心：按与W_max的距离选择增长策略。
// 丢包前没有W_max时持续以Smax加性上探；有W_max时二分逼近，越过后缓慢探测。
func (b *BIC) bicUpdate(s *SocketState) {
	mss := s.MSS
	b.ackCount++

	if b.lastMaxCwnd == 0 {
		// 尚未经历丢包：加性上探
		b.cwnd += bicMaxIncrement * mss
		if b.cwnd < b.minWin {
			b.cwnd = b.minWin
		}
		return
	}

	// 与W_max的距离（报文段）
	dist := (int64(b.lastMaxCwnd) - int64(b.cwnd)) / int64(mss)

	switch {
	case dist > bicMaxIncrement:
		// 距离目标尚远：按Smax加性增长
		b.cwnd += bicMaxIncrement * mss

	case dist > bicMinIncrement:
		// 二分搜索阶段：每次逼近一半距离
		increment := uint32(dist/2) * mss
		if increment < bicMinIncrement*mss {
			increment = bicMinIncrement * mss
		}
		b.cwnd += increment

	case dist > 0:
		// 临近目标：线性增长
		b.cwnd += bicMinIncrement * mss

	default:
		// 已到达或越过W_max
		if !b.foundNewMax {
			// 首次越过：标记并把W_max抬到当前窗口
			b.foundNewMax = true
			b.lastMaxCwnd = b.cwnd
		}

		// 越过W_max后缓慢探测，远离后恢复Smax步长
		if b.cwnd < b.lastMaxCwnd+bicMaxIncrement*mss {
			b.cwnd += bicMinIncrement * mss
		} else {
			b.cwnd += bicMaxIncrement * mss
			b.lastMaxCwnd = b.cwnd
		}
	}

	if b.cwnd < b.minWin {
		b.cwnd = b.minWin
	}
}

// reset 超时后清空epoch状态
func (b *BIC) reset() {
	b.lastMaxCwnd = 0
	b.minWin = 0
	b.foundNewMax = false
	b.ackCount = 0
	b.epochStart = b.clock.Now()
}
