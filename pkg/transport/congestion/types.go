// 拥塞控制共享原语：TCP状态、拥塞事件与算法枚举，RTT采样记录，以及传输层共享的SocketState载体
package congestion

import (
	"github.com/pkg/errors"
)

// TCPState TCP连接的拥塞状态机状态
type TCPState uint8

const (
	StateOpen     TCPState = iota // 正常状态
	StateDisorder                 // 乱序状态
	StateCWR                      // 拥塞窗口缩减状态（收到ECN后）
	StateRecovery                 // 快速恢复状态
	StateLoss                     // 丢失状态（超时后）
)

func (s TCPState) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateDisorder:
		return "Disorder"
	case StateCWR:
		return "CWR"
	case StateRecovery:
		return "Recovery"
	case StateLoss:
		return "Loss"
	default:
		return "Unknown"
	}
}

// CongestionEvent 传输层上报给拥塞控制器的事件类型
type CongestionEvent uint8

const (
	EventSlowStart           CongestionEvent = iota // 慢启动
	EventCongestionAvoidance                        // 拥塞避免
	EventFastRecovery                               // 快速恢复
	EventTimeout                                    // 超时
	EventECN                                        // 显式拥塞通知
	EventPacketLoss                                 // 丢包
	EventReordering                                 // 报文乱序
)

func (e CongestionEvent) String() string {
	switch e {
	case EventSlowStart:
		return "SlowStart"
	case EventCongestionAvoidance:
		return "CongestionAvoidance"
	case EventFastRecovery:
		return "FastRecovery"
	case EventTimeout:
		return "Timeout"
	case EventECN:
		return "ECN"
	case EventPacketLoss:
		return "PacketLoss"
	case EventReordering:
		return "Reordering"
	default:
		return "Unknown"
	}
}

// Algorithm 拥塞控制算法标识
type Algorithm uint8

const (
	AlgorithmBBR Algorithm = iota
	AlgorithmBIC
	AlgorithmCUBIC
	AlgorithmDCTCP
	AlgorithmReno
	AlgorithmVegas
	AlgorithmCopa // Copa拥有独立标识，不再复用Reno的槽位
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmBBR:
		return "BBR"
	case AlgorithmBIC:
		return "BIC"
	case AlgorithmCUBIC:
		return "CUBIC"
	case AlgorithmDCTCP:
		return "DCTCP"
	case AlgorithmReno:
		return "Reno"
	case AlgorithmVegas:
		return "Vegas"
	case AlgorithmCopa:
		return "Copa"
	default:
		return "Unknown"
	}
}

// ParseAlgorithm 将算法名称解析为Algorithm（大小写不敏感由调用方保证）
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "bbr", "BBR":
		return AlgorithmBBR, nil
	case "bic", "BIC":
		return AlgorithmBIC, nil
	case "cubic", "CUBIC":
		return AlgorithmCUBIC, nil
	case "dctcp", "DCTCP":
		return AlgorithmDCTCP, nil
	case "reno", "Reno":
		return AlgorithmReno, nil
	case "vegas", "Vegas":
		return AlgorithmVegas, nil
	case "copa", "Copa":
		return AlgorithmCopa, nil
	default:
		return 0, errors.Errorf("unsupported congestion algorithm: %s", name)
	}
}

const (
	// SsthreshUnset 慢启动阈值的“未设置”哨兵
	SsthreshUnset = uint32(0x7FFFFFFF)

	// rttUnset RTT估计的“未初始化”哨兵
	rttUnset = uint32(0xFFFFFFFF)

	// defaultRTTUs 无任何测量时用于速率/BDP计算的默认RTT（10ms）
	defaultRTTUs = uint32(10000)

	// DefaultMSS 默认最大报文段长度（字节）
	DefaultMSS = uint32(1460)

	// DefaultMaxCwnd 默认拥塞窗口上限（字节）
	DefaultMaxCwnd = uint32(65535)
)

// RTTSample 单次RTT测量（微秒，0表示本次ACK未测得RTT）
type RTTSample struct {
	RTTUs uint64
}

// SocketState 传输层持有的共享拥塞状态，按可变引用传入控制器的每次调用。
// 控制器在调用期间可读写全部字段，但不得在调用结束后保留引用。
type SocketState struct {
	TCPState  TCPState        // 当前TCP拥塞状态
	LastEvent CongestionEvent // 最近一次拥塞事件
	Cwnd      uint32          // 拥塞窗口（字节）
	Ssthresh  uint32          // 慢启动阈值（字节）
	MaxCwnd   uint32          // 拥塞窗口硬上限（字节）
	MSS       uint32          // 最大报文段长度（字节）
	RTTUs     uint32          // 平滑RTT（微秒）
	RTTVarUs  uint32          // RTT方差（微秒）
	RTOUs     uint32          // 重传超时（微秒）
}

// NewSocketState 按传输层惯例初始化：初始窗口4个MSS，阈值为未设置哨兵
func NewSocketState(mss, maxCwnd uint32) *SocketState {
	if mss == 0 {
		mss = DefaultMSS
	}
	if maxCwnd == 0 {
		maxCwnd = DefaultMaxCwnd
	}
	return &SocketState{
		TCPState: StateOpen,
		Cwnd:     4 * mss,
		Ssthresh: SsthreshUnset,
		MaxCwnd:  maxCwnd,
		MSS:      mss,
	}
}

// InSlowStart 是否处于慢启动阶段
func (s *SocketState) InSlowStart() bool {
	return s.Cwnd < s.Ssthresh
}

// updateRTTEstimate 更新平滑RTT、方差与RTO（RFC 6298的简化整数形式）。
// 首个样本时方差取rtt/2，之后按 (3*var + new)/4 平滑；RTO = rtt + 4*var。
func updateRTTEstimate(s *SocketState, rttUs uint64) {
	if rttUs == 0 {
		return
	}
	s.RTTUs = uint32(rttUs)
	if s.RTTVarUs == 0 {
		s.RTTVarUs = uint32(rttUs / 2)
	} else {
		s.RTTVarUs = uint32((3*uint64(s.RTTVarUs) + rttUs) / 4)
	}
	s.RTOUs = s.RTTUs + 4*s.RTTVarUs
}

// isCleanAck 判断事件是否对应一次“干净的ACK”。只有干净ACK携带的RTT才可进入
// 带宽/RTT估计器，丢包或超时路径上的陈旧RTT一律丢弃。
func isCleanAck(e CongestionEvent) bool {
	return e == EventSlowStart || e == EventCongestionAvoidance
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
