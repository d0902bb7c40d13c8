package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ddp/internal/builder"
	"ddp/internal/chain"
	"ddp/internal/codec"
	"ddp/internal/compiler"
	"ddp/internal/config"
	"ddp/internal/deployer"
	"ddp/internal/errors"
	"ddp/internal/journal"
	"ddp/internal/logging"
	"ddp/internal/shutdown"
)

var (
	// 基础参数
	configFile string
	rpcURL     string

	// 编译参数
	solcPath   string
	sourcePath string
	bytecode   string

	// 高级参数
	verbose    bool
	dryRun     bool
	noJournal  bool
	useJournal bool

	// 子命令参数
	chainID      uint64
	resetHistory bool

	logger = logrus.New()
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ddp",
		Short:         "确定性部署代理部署工具",
		Long:          `为当前链构建无私钥的确定性部署代理创建交易，向其发送方注资后原样广播`,
		RunE:          run,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().StringVar(&solcPath, "solc", "", "solc 可执行文件路径")
	rootCmd.PersistentFlags().StringVar(&sourcePath, "source", "", "代理合约 Yul 源码路径（默认使用内置源码）")
	rootCmd.PersistentFlags().StringVar(&bytecode, "bytecode", "", "预编译的代理合约字节码，设置后不调用 solc")

	rootCmd.Flags().StringVar(&rpcURL, "rpc-url", "", "节点地址")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "试运行模式，只构建交易不发送")
	rootCmd.Flags().BoolVar(&useJournal, "journal", false, "写入部署记录（覆盖配置）")
	rootCmd.Flags().BoolVar(&noJournal, "no-journal", false, "不写入部署记录")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "查看部署记录",
		RunE:  showHistory,
	}
	historyCmd.Flags().BoolVar(&resetHistory, "reset", false, "清空部署记录")

	addressCmd := &cobra.Command{
		Use:   "address",
		Short: "离线计算指定链上的部署地址与原始交易",
		RunE:  showAddress,
	}
	addressCmd.Flags().Uint64Var(&chainID, "chain-id", 0, "链ID")

	rootCmd.AddCommand(historyCmd, addressCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(errors.NewErrorHandler(logger).Handle(err))
	}
}

// loadConfig 加载配置并应用命令行覆盖
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	if rpcURL != "" {
		cfg.RPC.URL = rpcURL
	}
	if solcPath != "" {
		cfg.Compiler.SolcPath = solcPath
	}
	if sourcePath != "" {
		cfg.Compiler.SourcePath = sourcePath
	}
	if bytecode != "" {
		cfg.Compiler.Bytecode = bytecode
	}
	if useJournal {
		cfg.Journal.Enabled = true
	}
	if noJournal {
		cfg.Journal.Enabled = false
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	l, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfig, errors.CodeInvalidConfig, "初始化日志失败")
	}
	logger = l

	return cfg, nil
}

// newCompiler 配置了字节码时跳过 solc
func newCompiler(cfg *config.Config) compiler.Compiler {
	if cfg.Compiler.Bytecode != "" {
		logger.Debug("使用预编译字节码，跳过 solc")
		return &compiler.Precompiled{Bytecode: cfg.Compiler.Bytecode}
	}
	return compiler.NewSolc(cfg.Compiler.SolcPath)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 任何编译或网络调用之前校验配置
	if err := cfg.Validate(); err != nil {
		return err
	}

	gs := shutdown.NewGracefulShutdown(context.Background(), 10*time.Second, logger)
	gs.Start()
	defer gs.Close()
	ctx := gs.Context()

	client, err := chain.Dial(ctx, cfg.RPC.URL, config.ParseTimeout(cfg.RPC.Timeout, chain.DefaultDialTimeout), logger)
	if err != nil {
		return err
	}
	gs.Register("rpc", func(context.Context) error {
		client.Close()
		return nil
	}, shutdown.OrderCloseConnection)

	wallet, err := chain.NewWallet(cfg.Wallet.PrivateKey, client, logger)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeConfig, errors.CodeInvalidPrivateKey, "创建注资钱包失败")
	}

	var j deployer.Journal
	if cfg.Journal.Enabled && !dryRun {
		store, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			logger.Warnf("部署记录不可用，继续部署: %v", err)
		} else {
			gs.Register("journal", func(context.Context) error {
				return store.Close()
			}, shutdown.OrderCloseJournal)
			logger.Debugf("部署记录: %s", store.Path())
			j = store
		}
	}

	d := deployer.New(cfg, newCompiler(cfg), client, wallet, j, logger)

	start := time.Now()
	if dryRun {
		deployment, err := d.Plan(ctx)
		if err != nil {
			return err
		}
		printDeployment(deployment)
		return nil
	}

	result, err := d.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("部署完成，统计信息:")
	logger.Infof("  节点: %s", client.URL())
	logger.Infof("  链ID: %d", result.ChainID)
	logger.Infof("  部署地址: %s", result.Sender.Hex())
	logger.Infof("  代理合约: %s", result.ContractAddress.Hex())
	logger.Infof("  注资交易: %s", result.FundingTxHash.Hex())
	logger.Infof("  部署交易: %s", result.DeployTxHash.Hex())
	logger.Infof("  已确认: %v", result.Confirmed)
	logger.Infof("  耗时: %s", time.Since(start).Round(time.Millisecond))

	return nil
}

// showAddress 离线计算给定链ID下的部署信息
func showAddress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	source, err := compiler.LoadSource(cfg.Compiler.SourcePath)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeCompilation, errors.CodeCompilerFailed, "读取代理合约源码失败")
	}

	contract, err := compiler.CompileProxy(context.Background(), newCompiler(cfg), source)
	if err != nil {
		return err
	}

	deployment, err := builder.Build(contract.Bytecode, new(big.Int).SetUint64(chainID))
	if err != nil {
		return err
	}
	printDeployment(deployment)
	return nil
}

func printDeployment(d *builder.Deployment) {
	fmt.Println("📦 确定性部署代理")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("%-20s: %s\n", "chain_id", d.UnsignedFields.ChainID)
	fmt.Printf("%-20s: %s\n", "sender", d.Sender.Hex())
	fmt.Printf("%-20s: %s\n", "network_sender", d.NetworkSender.Hex())
	fmt.Printf("%-20s: %s\n", "contract_address", d.ContractAddress.Hex())
	fmt.Printf("%-20s: %s\n", "funding_amount", builder.FundingAmount())
	fmt.Printf("%-20s: %s\n", "tx_hash", d.Hash.Hex())
	fmt.Printf("%-20s: %s\n", "raw_transaction", codec.PrefixedHex(d.RawSigned))
	if !d.SenderMatchesNetwork() {
		fmt.Println("⚠️  节点将从 network_sender 扣费，而注资发往 sender")
	}
}

// showHistory 显示部署记录
func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := journal.Open(cfg.Journal.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if resetHistory {
		logger.Info("清空部署记录...")
		return store.Reset()
	}

	records, err := store.List()
	if err != nil {
		return err
	}

	fmt.Println("📊 部署记录")
	fmt.Println(strings.Repeat("=", 50))
	if len(records) == 0 {
		fmt.Println("暂无记录")
		return nil
	}

	for _, r := range records {
		fmt.Printf("%-20s: %d\n", "chain_id", r.ChainID)
		fmt.Printf("%-20s: %s\n", "status", r.Status)
		fmt.Printf("%-20s: %s\n", "sender", r.Sender)
		fmt.Printf("%-20s: %s\n", "contract_address", r.ContractAddress)
		if r.FundingTxHash != "" {
			fmt.Printf("%-20s: %s\n", "funding_tx_hash", r.FundingTxHash)
		}
		if r.DeployTxHash != "" {
			fmt.Printf("%-20s: %s\n", "deploy_tx_hash", r.DeployTxHash)
		}
		if r.Error != "" {
			fmt.Printf("%-20s: %s\n", "error", r.Error)
		}
		fmt.Printf("%-20s: %s\n", "updated_at", r.UpdatedAt.Format(time.RFC3339))
		fmt.Println(strings.Repeat("-", 50))
	}

	return nil
}
