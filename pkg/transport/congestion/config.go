// 拥塞控制算法配置：可调参数的YAML载体与默认值
package congestion

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// CubicConfig CUBIC可调参数
type CubicConfig struct {
	FastConvergence bool `yaml:"fast_convergence"` // 丢包时额外下调W_max，加速多流收敛
	TCPFriendly     bool `yaml:"tcp_friendly"`     // 低速区间内跟随Reno估计
	HystartEnabled  bool `yaml:"hystart_enabled"`  // 慢启动阶段的延迟探测提前退出
	// Hystart判定阈值：一轮内RTT抖动（max-min）超过该值即退出慢启动，
	// 量级参照Hystart论文（默认500微秒）
	HystartAckDeltaUs uint32 `yaml:"hystart_ack_delta_us"`
}

// DefaultCubicConfig CUBIC默认配置
func DefaultCubicConfig() CubicConfig {
	return CubicConfig{
		FastConvergence:   true,
		TCPFriendly:       true,
		HystartEnabled:    true,
		HystartAckDeltaUs: 500,
	}
}

// VegasConfig Vegas可调参数（均以报文段为单位）
type VegasConfig struct {
	AlphaSegments uint32 `yaml:"alpha_segments"` // diff低于该值时增窗
	BetaSegments  uint32 `yaml:"beta_segments"`  // diff高于该值时减窗
	GammaSegments uint32 `yaml:"gamma_segments"` // 慢启动退出阈值
}

// DefaultVegasConfig Vegas默认配置（α=2，β=4，γ=1）
func DefaultVegasConfig() VegasConfig {
	return VegasConfig{
		AlphaSegments: 2,
		BetaSegments:  4,
		GammaSegments: 1,
	}
}

// CopaConfig Copa可调参数
type CopaConfig struct {
	Delta             float64 `yaml:"delta"`                // 目标排队延迟（以min RTT为单位）
	Competitive       bool    `yaml:"competitive"`          // 创建后直接进入竞争模式
	SSExitThresholdUs uint32  `yaml:"ss_exit_threshold_us"` // 排队延迟超过该值退出慢启动
}

// DefaultCopaConfig Copa默认配置（δ=0.5，慢启动退出阈值1ms）
func DefaultCopaConfig() CopaConfig {
	return CopaConfig{
		Delta:             0.5,
		SSExitThresholdUs: 1000,
	}
}

// Config 拥塞控制配置文件载体
type Config struct {
	Algorithm string      `yaml:"algorithm"` // 算法名称（reno/bic/cubic/dctcp/vegas/copa/bbr）
	MSS       uint32      `yaml:"mss"`       // 最大报文段长度（字节，0取默认1460）
	MaxCwnd   uint32      `yaml:"max_cwnd"`  // 拥塞窗口上限（字节，0取默认65535）
	Cubic     CubicConfig `yaml:"cubic"`
	Vegas     VegasConfig `yaml:"vegas"`
	Copa      CopaConfig  `yaml:"copa"`
}

// DefaultConfig 默认配置（CUBIC）
func DefaultConfig() *Config {
	return &Config{
		Algorithm: "cubic",
		MSS:       DefaultMSS,
		MaxCwnd:   DefaultMaxCwnd,
		Cubic:     DefaultCubicConfig(),
		Vegas:     DefaultVegasConfig(),
		Copa:      DefaultCopaConfig(),
	}
}

// LoadConfig 从YAML文件加载配置，缺省字段保持默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read congestion config %s", path)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse congestion config %s", path)
	}
	return cfg, nil
}

// Build 按配置组装控制器与初始SocketState
func (c *Config) Build(opts ...Option) (Controller, *SocketState, error) {
	algorithm, err := ParseAlgorithm(c.Algorithm)
	if err != nil {
		return nil, nil, err
	}

	all := []Option{
		WithCubicConfig(c.Cubic),
		WithVegasConfig(c.Vegas),
		WithCopaConfig(c.Copa),
	}
	all = append(all, opts...)

	ctrl, err := New(algorithm, all...)
	if err != nil {
		return nil, nil, err
	}
	return ctrl, NewSocketState(c.MSS, c.MaxCwnd), nil
}
