package congestion

import (
	"github.com/Lzww0608/CongestionControl/pkg/utils/logger"
)

// ------------------------------
// DCTCP拥塞控制算法实现（Data Center TCP）
// 特点：以EWMA估计ECN标记字节占比α，按α比例缩窗而不是粗暴减半
// ------------------------------

const (
	dctcpG        = 0.0625 // EWMA权重 g = 1/16
	dctcpMaxAlpha = 1.0
)

// DCTCP 基于ECN比例缩减的控制器
type DCTCP struct {
	baseController

	cwnd     uint32 // SocketState镜像（调用期间的本地缓存）
	ssthresh uint32
	maxCwnd  uint32

	alpha           float64 // ECN标记占比的EWMA估计，初始1.0（保守）
	ackedBytesEcn   uint64  // 本窗口内带ECN标记的确认字节数
	ackedBytesTotal uint64  // 本窗口内全部确认字节数
	ceState         bool    // 最近一次ECN回显状态
	nextSeq         uint64  // 累计确认字节数（逐ACK推进）
	priorRcvNxt     uint64  // 上个窗口结束时nextSeq的快照
}

// NewDCTCP 创建DCTCP控制器
func NewDCTCP(opts ...Option) *DCTCP {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &DCTCP{
		baseController: newBaseController(AlgorithmDCTCP, "DCTCP", o),
		ssthresh:       SsthreshUnset,
		maxCwnd:        DefaultMaxCwnd,
		alpha:          1.0,
	}
}

// GetSsThresh DCTCP缩减：ssthresh = cwnd*(1-α/2)，α小时远比减半温和
func (d *DCTCP) GetSsThresh(s *SocketState, bytesInFlight uint32) uint32 {
	if s == nil {
		return d.ssthresh
	}
	d.ssthresh = maxU32(uint32(float64(s.Cwnd)*(1.0-d.alpha/2.0)), 2*s.MSS)
	s.Ssthresh = d.ssthresh
	return d.ssthresh
}

// IncreaseWindow 慢启动与拥塞避免均沿用标准Reno增长
func (d *DCTCP) IncreaseWindow(s *SocketState, segmentsAcked uint32) {
	if s == nil || segmentsAcked == 0 || s.MSS == 0 {
		return
	}

	d.cwnd = s.Cwnd
	d.ssthresh = s.Ssthresh
	d.maxCwnd = s.MaxCwnd

	if s.TCPState == StateRecovery {
		d.cwnd = d.fastRecovery(s, segmentsAcked)
	} else if d.cwnd < d.ssthresh {
		d.cwnd = d.slowStart(s, segmentsAcked)
	} else {
		d.cwnd = d.congestionAvoidance(s, segmentsAcked)
	}

	d.cwnd = minU32(d.cwnd, d.maxCwnd)
	s.Cwnd = d.cwnd
}

// PktsAcked ECN记账：累计确认字节与标记字节，每经过约一个窗口更新一次α
func (d *DCTCP) PktsAcked(s *SocketState, segmentsAcked uint32, rttUs uint64, ecnMarked bool) {
	if s == nil || segmentsAcked == 0 {
		return
	}
	updateRTTEstimate(s, rttUs)

	d.cwnd = s.Cwnd
	ackedBytes := uint64(segmentsAcked) * uint64(s.MSS)
	d.ackedBytesTotal += ackedBytes
	if ecnMarked {
		d.ackedBytesEcn += ackedBytes
		d.ceState = true
	}
	d.nextSeq += ackedBytes

	// 约每RTT（确认量达到一个窗口）更新一次α
	if d.ackedBytesTotal >= uint64(s.Cwnd) {
		d.updateAlpha()
		d.resetECNCounters()
	}
}

// CongestionStateSet 记录TCP状态，进入Recovery/Loss时重算阈值
func (d *DCTCP) CongestionStateSet(s *SocketState, state TCPState) {
	if s == nil {
		return
	}
	s.TCPState = state
	if state == StateRecovery || state == StateLoss {
		d.GetSsThresh(s, 0)
	}
}

// CwndEvent 响应拥塞事件
func (d *DCTCP) CwndEvent(s *SocketState, event CongestionEvent) {
	if s == nil {
		return
	}
	s.LastEvent = event

	switch event {
	case EventPacketLoss:
		// 丢包同样按α缩减
		d.GetSsThresh(s, 0)
		d.cwnd = d.ssthresh
		s.Cwnd = d.cwnd
		s.TCPState = StateRecovery

	case EventTimeout:
		d.ssthresh = maxU32(s.Cwnd/2, 2*s.MSS)
		s.Ssthresh = d.ssthresh
		d.cwnd = s.MSS
		s.Cwnd = d.cwnd
		s.TCPState = StateLoss

		// 超时后回到保守估计
		d.alpha = 1.0
		d.resetECNCounters()
		d.log.Debug("DCTCP timeout, alpha reset",
			logger.Uint32("cwnd", s.Cwnd),
			logger.Uint32("ssthresh", s.Ssthresh))

	case EventECN:
		d.ceState = true
		// 慢启动阶段只记录不缩窗
		if !s.InSlowStart() {
			d.GetSsThresh(s, 0)
			d.cwnd = d.ssthresh
			s.Cwnd = d.cwnd
		}
		s.TCPState = StateCWR

	case EventFastRecovery:
		s.TCPState = StateRecovery
	}
}

// CongControl 组合入口：事件处理后仅对干净ACK折算RTT
func (d *DCTCP) CongControl(s *SocketState, event CongestionEvent, rtt RTTSample) {
	if s == nil {
		return
	}
	d.CwndEvent(s, event)
	if rtt.RTTUs > 0 && isCleanAck(event) {
		d.PktsAcked(s, 1, rtt.RTTUs, false)
	}
}

// Alpha 当前ECN占比估计，测试与监控用
func (d *DCTCP) Alpha() float64 {
	return d.alpha
}

// Snapshot 当前私有状态快照
func (d *DCTCP) Snapshot() Stats {
	return Stats{
		Algorithm: d.name,
		Cwnd:      d.cwnd,
		Ssthresh:  d.ssthresh,
		Alpha:     d.alpha,
	}
}

// 慢启动：指数增长（标准TCP）
func (d *DCTCP) slowStart(s *SocketState, segmentsAcked uint32) uint32 {
	newCwnd := d.cwnd + segmentsAcked*s.MSS
	if newCwnd > d.ssthresh {
		newCwnd = d.ssthresh
	}
	return minU32(newCwnd, d.maxCwnd)
}

// 拥塞避免：加性增长（标准TCP）
func (d *DCTCP) congestionAvoidance(s *SocketState, segmentsAcked uint32) uint32 {
	if d.cwnd == 0 {
		return d.cwnd
	}
	mss := s.MSS
	increment := (segmentsAcked * mss * mss) / d.cwnd
	if increment == 0 && segmentsAcked > 0 {
		increment = 1
	}
	return minU32(d.cwnd+increment, d.maxCwnd)
}

// 快速恢复：每个重复ACK膨胀一个MSS
func (d *DCTCP) fastRecovery(s *SocketState, segmentsAcked uint32) uint32 {
	return minU32(d.cwnd+segmentsAcked*s.MSS, d.maxCwnd)
}

// updateAlpha α = (1-g)*α + g*F，F为本窗口ECN标记字节占比
func (d *DCTCP) updateAlpha() {
	if d.ackedBytesTotal == 0 {
		return
	}
	f := float64(d.ackedBytesEcn) / float64(d.ackedBytesTotal)
	d.alpha = (1.0-dctcpG)*d.alpha + dctcpG*f

	if d.alpha < 0 {
		d.alpha = 0
	} else if d.alpha > dctcpMaxAlpha {
		d.alpha = dctcpMaxAlpha
	}
}

// resetECNCounters 窗口结束后清零计数并快照边界
func (d *DCTCP) resetECNCounters() {
	d.ackedBytesEcn = 0
	d.ackedBytesTotal = 0
	d.priorRcvNxt = d.nextSeq
}
