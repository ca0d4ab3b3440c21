// 拥塞控制算法实现模块，提供多种经典网络拥塞控制算法的实现，用于动态调整数据发送策略，避免网络拥塞
package congestion

import (
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/Lzww0608/CongestionControl/pkg/utils/logger"
)

// Controller 拥塞控制接口，定义所有拥塞控制算法需实现的核心方法。
// 所有方法都以可变引用方式接收SocketState；state为nil或segmentsAcked为0时均为空操作。
type Controller interface {
	// AlgorithmName 返回算法的稳定短名（"Reno"、"CUBIC"等）
	AlgorithmName() string
	// Algorithm 返回算法标识
	Algorithm() Algorithm
	// GetSsThresh 计算离开当前拥塞窗口时应采用的慢启动阈值（按算法缩减），
	// 写入s.Ssthresh并返回；保证不低于2个MSS
	GetSsThresh(s *SocketState, bytesInFlight uint32) uint32
	// IncreaseWindow 响应一串ACK增长拥塞窗口，按算法分派到慢启动/拥塞避免/快速恢复
	IncreaseWindow(s *SocketState, segmentsAcked uint32)
	// PktsAcked 将一次RTT样本折算进平滑估计器，并执行算法私有的采样逻辑
	// （带宽、standing RTT、ECN记账等）。rttUs为0表示本次ACK未测得RTT，
	// 此类调用不得污染min/base RTT。ecnMarked表示本次确认的报文带有ECN标记。
	PktsAcked(s *SocketState, segmentsAcked uint32, rttUs uint64, ecnMarked bool)
	// CongestionStateSet 记录TCP状态；进入Recovery或Loss时触发GetSsThresh
	CongestionStateSet(s *SocketState, state TCPState)
	// CwndEvent 响应拥塞事件，各算法定义自己的缩减策略
	CwndEvent(s *SocketState, event CongestionEvent)
	// CongControl 组合入口：先CwndEvent，随后仅在干净ACK事件且rtt>0时折算RTT样本
	CongControl(s *SocketState, event CongestionEvent, rtt RTTSample)
	// HasCongControl 拥塞控制是否启用
	HasCongControl() bool
	// Snapshot 控制器私有状态的快照（模式、增益、估计值），用于监控和分析算法行为
	Snapshot() Stats
}

// Stats 控制器私有状态快照。各算法只填写与自己相关的字段
type Stats struct {
	Algorithm string // 算法名称
	Mode      string // 内部模式/阶段（Reno等无模式机的算法为空）

	Cwnd     uint32 // 最近一次调用观察到的拥塞窗口（字节）
	Ssthresh uint32 // 最近一次计算的慢启动阈值（字节）

	LastMaxCwnd uint32  // 上次丢包时的窗口W_max（BIC/CUBIC）
	K           float64 // 三次曲线拐点（秒，CUBIC）

	Alpha float64 // ECN标记占比的EWMA估计（DCTCP）

	BaseRTTUs     uint32  // base/min RTT（微秒，Vegas/Copa/BBR）
	StandingRTTUs uint32  // standing RTT（微秒，Copa）
	Velocity      float64 // velocity控制量（Copa）

	MaxBandwidth   uint64 // 瓶颈带宽估计（字节/秒，BBR）
	PacingGain     uint32 // pacing增益（整数百分比，BBR）
	CwndGain       uint32 // 窗口增益（整数百分比，BBR）
	PacingRate     uint64 // pacing速率（字节/秒，BBR）
	DeliveredBytes uint64 // 累计确认字节数（Copa/BBR）
}

// PacedController 额外发布pacing速率的算法（目前只有BBR）
type PacedController interface {
	Controller
	// PacingRate 当前建议的pacing速率（字节/秒），由传输层的pacer消费
	PacingRate() uint64
}

// options 控制器构建选项
type options struct {
	clock clockwork.Clock
	log   *logger.Logger
	cubic CubicConfig
	vegas VegasConfig
	copa  CopaConfig
}

// Option 控制器构建选项函数
type Option func(*options)

func defaultOptions() options {
	return options{
		clock: clockwork.NewRealClock(),
		log:   logger.Default(),
		cubic: DefaultCubicConfig(),
		vegas: DefaultVegasConfig(),
		copa:  DefaultCopaConfig(),
	}
}

// WithClock 注入时钟源（测试中使用clockwork.NewFakeClock以获得确定性）
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger 注入日志记录器
func WithLogger(log *logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithCubicConfig 覆盖CUBIC可调参数
func WithCubicConfig(cfg CubicConfig) Option {
	return func(o *options) { o.cubic = cfg }
}

// WithVegasConfig 覆盖Vegas可调参数
func WithVegasConfig(cfg VegasConfig) Option {
	return func(o *options) { o.vegas = cfg }
}

// WithCopaConfig 覆盖Copa可调参数
func WithCopaConfig(cfg CopaConfig) Option {
	return func(o *options) { o.copa = cfg }
}

// baseController 封装所有算法共享的标识与环境（时钟、日志）
type baseController struct {
	algorithm Algorithm
	name      string
	clock     clockwork.Clock
	log       *logger.Logger
}

func newBaseController(algorithm Algorithm, name string, o options) baseController {
	return baseController{
		algorithm: algorithm,
		name:      name,
		clock:     o.clock,
		log:       o.log,
	}
}

func (b *baseController) AlgorithmName() string {
	return b.name
}

func (b *baseController) Algorithm() Algorithm {
	return b.algorithm
}

func (b *baseController) HasCongControl() bool {
	return true
}

// New 创建拥塞控制器实例（根据算法标识）
func New(algorithm Algorithm, opts ...Option) (Controller, error) {
	switch algorithm {
	case AlgorithmReno:
		return NewReno(opts...), nil
	case AlgorithmBIC:
		return NewBIC(opts...), nil
	case AlgorithmCUBIC:
		return NewCubic(opts...), nil
	case AlgorithmDCTCP:
		return NewDCTCP(opts...), nil
	case AlgorithmVegas:
		return NewVegas(opts...), nil
	case AlgorithmCopa:
		return NewCopa(opts...), nil
	case AlgorithmBBR:
		return NewBBR(opts...), nil
	default:
		return nil, errors.Errorf("unsupported congestion algorithm: %d", algorithm)
	}
}
