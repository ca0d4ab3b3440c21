// 拥塞控制算法库的命令行接口，用于在模拟的ACK/丢包/ECN事件序列上观察各算法的窗口与速率演化
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Lzww0608/CongestionControl/pkg/transport"
	"github.com/Lzww0608/CongestionControl/pkg/transport/congestion"
	log "github.com/Lzww0608/CongestionControl/pkg/utils/logger"
)

var (
	// 版本信息（编译时可通过参数注入）
	Version   = "dev"     // 版本号
	BuildTime = "unknown" // 构建时间

	// 配置相关
	cfgFile string // 配置文件路径

	// 日志实例
	logger *log.Logger
)

// rootCmd 表示基础命令（默认命令）
var rootCmd = &cobra.Command{
	Use:   "ccsim",
	Short: "CongestionControl: TCP拥塞控制算法库",
	Long: `CongestionControl提供Reno、BIC、CUBIC、BBR、Copa、DCTCP、Vegas七种
拥塞控制算法的统一实现。本工具在模拟的事件序列上驱动所选算法，
打印拥塞窗口与pacing速率的演化过程。`,
	Run: runSimulation, // 执行root命令时调用runSimulation函数
}

// versionCmd 表示版本命令（用于显示版本信息）
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("CongestionControl %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

// listCmd 表示算法列表命令
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "列出支持的拥塞控制算法",
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range []congestion.Algorithm{
			congestion.AlgorithmReno,
			congestion.AlgorithmBIC,
			congestion.AlgorithmCUBIC,
			congestion.AlgorithmDCTCP,
			congestion.AlgorithmVegas,
			congestion.AlgorithmCopa,
			congestion.AlgorithmBBR,
		} {
			fmt.Println(a.String())
		}
	},
}

func init() {
	// 在命令执行前初始化配置
	cobra.OnInitialize(initConfig)

	// 全局标志（所有命令共享）
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认是./congestion.yaml）")
	rootCmd.PersistentFlags().String("log-level", "info", "日志级别（debug, info, warning, error, fatal）")

	// 模拟参数
	rootCmd.Flags().String("algorithm", "cubic", "拥塞控制算法（reno, bic, cubic, dctcp, vegas, copa, bbr）")
	rootCmd.Flags().Uint32("mss", congestion.DefaultMSS, "最大报文段长度（字节）")
	rootCmd.Flags().Uint32("max-cwnd", congestion.DefaultMaxCwnd, "拥塞窗口上限（字节）")
	rootCmd.Flags().Int("acks", 100, "模拟的ACK数量")
	rootCmd.Flags().Duration("rtt", 50*time.Millisecond, "模拟的链路RTT")
	rootCmd.Flags().Int("loss-every", 0, "每N个ACK注入一次丢包（0=不注入）")
	rootCmd.Flags().Int("ecn-every", 0, "每N个ACK注入一次ECN标记（0=不注入）")

	// 将命令行标志绑定到viper（用于配置读取）
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("algorithm", rootCmd.Flags().Lookup("algorithm"))
	viper.BindPFlag("mss", rootCmd.Flags().Lookup("mss"))
	viper.BindPFlag("max-cwnd", rootCmd.Flags().Lookup("max-cwnd"))
	viper.BindPFlag("acks", rootCmd.Flags().Lookup("acks"))
	viper.BindPFlag("rtt", rootCmd.Flags().Lookup("rtt"))
	viper.BindPFlag("loss-every", rootCmd.Flags().Lookup("loss-every"))
	viper.BindPFlag("ecn-every", rootCmd.Flags().Lookup("ecn-every"))

	// 添加子命令到根命令
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(listCmd)
}

// initConfig 初始化配置：读取配置文件、设置默认值、初始化日志
func initConfig() {
	if cfgFile != "" {
		// 若指定了配置文件路径，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		// 未指定则在当前目录查找congestion.yaml
		viper.AddConfigPath(".")
		viper.SetConfigName("congestion")
		viper.SetConfigType("yaml")
	}

	// 环境变量前缀为CCSIM（例如CCSIM_LOG_LEVEL对应log-level）
	viper.SetEnvPrefix("CCSIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// 读取配置文件（若存在）
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("使用配置文件:", viper.ConfigFileUsed())
	}

	logger = log.Default()
	switch viper.GetString("log-level") {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "fatal":
		log.SetLevel(log.FatalLevel)
	}
}

// runSimulation 执行root命令：在模拟事件序列上驱动所选算法
func runSimulation(cmd *cobra.Command, args []string) {
	algorithm, err := congestion.ParseAlgorithm(viper.GetString("algorithm"))
	if err != nil {
		logger.Error("算法名称无效", log.Err(err))
		os.Exit(1)
	}

	ctrl, err := congestion.New(algorithm)
	if err != nil {
		logger.Fatal("创建控制器失败", log.Err(err))
	}

	mss := viper.GetUint32("mss")
	maxCwnd := viper.GetUint32("max-cwnd")
	conn := transport.NewConn(ctrl, mss, maxCwnd)

	acks := viper.GetInt("acks")
	rtt := viper.GetDuration("rtt")
	lossEvery := viper.GetInt("loss-every")
	ecnEvery := viper.GetInt("ecn-every")

	logger.Info("开始模拟",
		log.String("算法", ctrl.AlgorithmName()),
		log.Uint32("MSS", mss),
		log.Int("ACK数量", acks),
		log.Duration("RTT", rtt))

	for i := 1; i <= acks; i++ {
		if lossEvery > 0 && i%lossEvery == 0 {
			conn.OnLoss()
		}
		ecn := ecnEvery > 0 && i%ecnEvery == 0
		conn.OnAck(1, rtt, ecn)
		if ecn {
			conn.OnECN()
		}

		if i%10 == 0 || i == acks {
			state := conn.State()
			snap := conn.Snapshot()
			fields := []log.Field{
				log.Int("ack", i),
				log.Uint32("cwnd", state.Cwnd),
				log.Uint32("ssthresh", state.Ssthresh),
				log.Uint32("rtoUs", state.RTOUs),
				log.String("state", state.TCPState.String()),
			}
			if snap.Mode != "" {
				fields = append(fields, log.String("mode", snap.Mode))
			}
			if snap.Alpha > 0 {
				fields = append(fields, log.Float64("alpha", snap.Alpha))
			}
			if snap.MaxBandwidth > 0 {
				fields = append(fields, log.Uint64("maxBandwidth", snap.MaxBandwidth))
			}
			if rate, ok := conn.PacingRate(); ok {
				fields = append(fields, log.Uint64("pacingRate", rate))
			}
			logger.Info("窗口演化", fields...)
		}
	}

	stats := conn.Stats()
	snap := conn.Snapshot()
	summary := []log.Field{
		log.Uint64("ACK", stats.AcksReceived),
		log.Uint64("丢包", stats.Losses),
		log.Uint64("ECN", stats.ECNMarks),
		log.Uint32("最终cwnd", conn.Cwnd()),
	}
	if snap.Mode != "" {
		summary = append(summary, log.String("最终模式", snap.Mode))
	}
	logger.Info("模拟结束", summary...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
