// 将拥塞控制器接入发送端事件循环的适配层：持有SocketState，把ACK/丢包/超时/ECN
// 事件转发给控制器，并暴露窗口与pacing速率
package transport

import (
	"sync"
	"time"

	"github.com/Lzww0608/CongestionControl/pkg/transport/congestion"
	"github.com/Lzww0608/CongestionControl/pkg/utils/logger"
)

// fastRetransmitter 支持快速重传窗口膨胀的算法（目前只有Reno）
type fastRetransmitter interface {
	FastRetransmit(s *congestion.SocketState, segmentsAcked uint32) uint32
}

// ConnStats 连接级拥塞事件统计
type ConnStats struct {
	AcksReceived  uint64 // 收到的新ACK数
	DupAcks       uint64 // 重复ACK数
	FastRetrans   uint64 // 快速重传触发次数
	Losses        uint64 // 丢包事件数
	Timeouts      uint64 // 超时事件数
	ECNMarks      uint64 // ECN事件数
	Reorderings   uint64 // 乱序事件数
	SegmentsAcked uint64 // 累计确认的报文段数
}

// Conn 一条连接的拥塞控制载体：一个控制器配一个SocketState，
// 所有入口由连接自己的事件循环串行驱动
type Conn struct {
	mu sync.Mutex

	ctrl  congestion.Controller
	state *congestion.SocketState

	dupAckCount int // 重复ACK计数（=3时触发快速重传）
	stats       ConnStats
	log         *logger.Logger
}

// NewConn 绑定控制器与新建的SocketState
func NewConn(ctrl congestion.Controller, mss, maxCwnd uint32) *Conn {
	return &Conn{
		ctrl:  ctrl,
		state: congestion.NewSocketState(mss, maxCwnd),
		log:   logger.Default().With(logger.String("algorithm", ctrl.AlgorithmName())),
	}
}

// OnAck 每个ACK调用一次：先折算RTT样本，再增长窗口。
// ackedSegments为0视为重复ACK，累计3个触发快速重传。
func (c *Conn) OnAck(ackedSegments uint32, rtt time.Duration, ecnMarked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ackedSegments == 0 {
		c.dupAckCount++
		c.stats.DupAcks++
		if c.dupAckCount == 3 {
			c.stats.FastRetrans++
			if fr, ok := c.ctrl.(fastRetransmitter); ok {
				fr.FastRetransmit(c.state, 0)
			} else {
				c.ctrl.CwndEvent(c.state, congestion.EventPacketLoss)
			}
			c.log.Debug("fast retransmit triggered",
				logger.Uint32("cwnd", c.state.Cwnd),
				logger.Uint32("ssthresh", c.state.Ssthresh))
		} else if c.dupAckCount > 3 && c.state.TCPState == congestion.StateRecovery {
			// 快速恢复阶段：每个重复ACK膨胀窗口
			c.ctrl.IncreaseWindow(c.state, 1)
		}
		return
	}

	c.dupAckCount = 0
	c.stats.AcksReceived++
	c.stats.SegmentsAcked += uint64(ackedSegments)

	c.ctrl.PktsAcked(c.state, ackedSegments, uint64(rtt.Microseconds()), ecnMarked)
	c.ctrl.IncreaseWindow(c.state, ackedSegments)
}

// OnLoss 检测到丢包
func (c *Conn) OnLoss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Losses++
	c.ctrl.CwndEvent(c.state, congestion.EventPacketLoss)
}

// OnTimeout 重传超时
func (c *Conn) OnTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Timeouts++
	c.dupAckCount = 0
	c.ctrl.CwndEvent(c.state, congestion.EventTimeout)
}

// OnECN 收到ECN回显
func (c *Conn) OnECN() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.ECNMarks++
	c.ctrl.CwndEvent(c.state, congestion.EventECN)
}

// OnReordering 检测到报文乱序
func (c *Conn) OnReordering() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Reorderings++
	c.ctrl.CwndEvent(c.state, congestion.EventReordering)
}

// Cwnd 当前拥塞窗口（字节）
func (c *Conn) Cwnd() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Cwnd
}

// PacingRate 控制器发布的pacing速率；非paced算法返回false
func (c *Conn) PacingRate() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if paced, ok := c.ctrl.(congestion.PacedController); ok {
		return paced.PacingRate(), true
	}
	return 0, false
}

// State 共享拥塞状态的快照副本
func (c *Conn) State() congestion.SocketState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.state
}

// Stats 连接统计快照
func (c *Conn) Stats() ConnStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Snapshot 控制器私有状态快照（模式、增益、估计值）
func (c *Conn) Snapshot() congestion.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctrl.Snapshot()
}

// Controller 底层控制器（监控用）
func (c *Conn) Controller() congestion.Controller {
	return c.ctrl
}
