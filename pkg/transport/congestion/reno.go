package congestion

import (
	"github.com/Lzww0608/CongestionControl/pkg/utils/logger"
)

// ------------------------------
// Reno拥塞控制算法实现（经典TCP Reno）
// 特点：基于丢包检测，包含慢启动、拥塞避免、快速重传和快速恢复
// ------------------------------

// Reno 经典AIMD拥塞控制器
type Reno struct {
	baseController

	// SocketState镜像，仅在单次调用期间作为本地缓存使用
	cwnd     uint32
	ssthresh uint32
	maxCwnd  uint32
}

// NewReno 创建Reno控制器
func NewReno(opts ...Option) *Reno {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Reno{
		baseController: newBaseController(AlgorithmReno, "Reno", o),
		ssthresh:       SsthreshUnset,
		maxCwnd:        DefaultMaxCwnd,
	}
}

// GetSsThresh 阈值减半，下限2个MSS
func (r *Reno) GetSsThresh(s *SocketState, bytesInFlight uint32) uint32 {
	if s == nil {
		return r.ssthresh
	}
	r.ssthresh = maxU32(s.Cwnd/2, 2*s.MSS)
	s.Ssthresh = r.ssthresh
	return r.ssthresh
}

// IncreaseWindow 按当前阶段增长窗口
func (r *Reno) IncreaseWindow(s *SocketState, segmentsAcked uint32) {
	if s == nil || segmentsAcked == 0 || s.MSS == 0 {
		return
	}

	r.cwnd = s.Cwnd
	r.ssthresh = s.Ssthresh
	r.maxCwnd = s.MaxCwnd

	if s.TCPState == StateRecovery {
		r.cwnd = r.fastRecovery(s, segmentsAcked)
	} else if r.cwnd < r.ssthresh {
		r.cwnd = r.slowStart(s, segmentsAcked)
	} else {
		r.cwnd = r.congestionAvoidance(s, segmentsAcked)
	}

	r.cwnd = minU32(r.cwnd, r.maxCwnd)
	s.Cwnd = r.cwnd
}

// PktsAcked 折算RTT样本并更新RTO
func (r *Reno) PktsAcked(s *SocketState, segmentsAcked uint32, rttUs uint64, _ bool) {
	if s == nil || segmentsAcked == 0 {
		return
	}
	updateRTTEstimate(s, rttUs)
}

// CongestionStateSet 记录TCP状态，进入Recovery/Loss时重算阈值
func (r *Reno) CongestionStateSet(s *SocketState, state TCPState) {
	if s == nil {
		return
	}
	s.TCPState = state
	if state == StateRecovery || state == StateLoss {
		r.GetSsThresh(s, 0)
	}
}

// CwndEvent 响应拥塞事件
func (r *Reno) CwndEvent(s *SocketState, event CongestionEvent) {
	if s == nil {
		return
	}
	s.LastEvent = event

	switch event {
	case EventPacketLoss, EventTimeout:
		r.ssthresh = maxU32(s.Cwnd/2, 2*s.MSS)
		s.Ssthresh = r.ssthresh

		if event == EventTimeout {
			// 超时：窗口退回单个报文段
			r.cwnd = s.MSS
			s.Cwnd = r.cwnd
			s.TCPState = StateLoss
		} else {
			s.TCPState = StateRecovery
		}
		r.log.Debug("Reno window reduced",
			logger.String("event", event.String()),
			logger.Uint32("cwnd", s.Cwnd),
			logger.Uint32("ssthresh", s.Ssthresh))

	case EventECN:
		r.ssthresh = maxU32(s.Cwnd/2, 2*s.MSS)
		r.cwnd = r.ssthresh
		s.Ssthresh = r.ssthresh
		s.Cwnd = r.cwnd
		s.TCPState = StateCWR

	case EventFastRecovery:
		s.TCPState = StateRecovery
	}
}

// CongControl 组合入口：事件处理后仅对干净ACK折算RTT
func (r *Reno) CongControl(s *SocketState, event CongestionEvent, rtt RTTSample) {
	if s == nil {
		return
	}
	r.CwndEvent(s, event)
	if rtt.RTTUs > 0 && isCleanAck(event) {
		r.PktsAcked(s, 1, rtt.RTTUs, false)
	}
}

// Snapshot 当前私有状态快照
func (r *Reno) Snapshot() Stats {
	return Stats{
		Algorithm: r.name,
		Cwnd:      r.cwnd,
		Ssthresh:  r.ssthresh,
	}
}

// FastRetransmit 收到3个重复ACK时由传输层触发：阈值减半并进入快速恢复，
// 窗口膨胀到ssthresh+3个MSS
func (r *Reno) FastRetransmit(s *SocketState, segmentsAcked uint32) uint32 {
	if s == nil {
		return r.cwnd
	}

	r.ssthresh = maxU32(s.Cwnd/2, 2*s.MSS)
	s.Ssthresh = r.ssthresh
	s.TCPState = StateRecovery

	r.cwnd = r.ssthresh + 3*s.MSS
	s.Cwnd = minU32(r.cwnd, s.MaxCwnd)
	return s.Cwnd
}

// 慢启动：指数增长，封顶到ssthresh
func (r *Reno) slowStart(s *SocketState, segmentsAcked uint32) uint32 {
	newCwnd := r.cwnd + segmentsAcked*s.MSS
	if newCwnd > r.ssthresh {
		newCwnd = r.ssthresh
	}
	return minU32(newCwnd, r.maxCwnd)
}

// 拥塞避免：线性增长，每RTT约1个MSS
func (r *Reno) congestionAvoidance(s *SocketState, segmentsAcked uint32) uint32 {
	if r.cwnd == 0 {
		return r.cwnd
	}
	mss := s.MSS
	increment := (segmentsAcked * mss * mss) / r.cwnd
	if increment == 0 && segmentsAcked > 0 {
		increment = 1
	}
	return minU32(r.cwnd+increment, r.maxCwnd)
}

// 快速恢复：每个重复ACK膨胀一个MSS
func (r *Reno) fastRecovery(s *SocketState, segmentsAcked uint32) uint32 {
	return minU32(r.cwnd+segmentsAcked*s.MSS, r.maxCwnd)
}
