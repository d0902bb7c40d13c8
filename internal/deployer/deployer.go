// Package deployer 串联编译、注资与广播，把确定性部署代理部署到当前链上。
package deployer

import (
	"context"
	stderrors "errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"ddp/internal/builder"
	"ddp/internal/codec"
	"ddp/internal/compiler"
	"ddp/internal/config"
	"ddp/internal/errors"
	"ddp/internal/logging"
	"ddp/internal/validation"
	"ddp/internal/wait"
	"ddp/pkg/models"
)

// State 部署流程状态
type State int

const (
	StateCompiling State = iota
	StateFunding
	StateBroadcasting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCompiling:
		return "Compiling"
	case StateFunding:
		return "Funding"
	case StateBroadcasting:
		return "Broadcasting"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Chain 部署所需的节点能力
type Chain interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// Funder 注资钱包
type Funder interface {
	Address() common.Address
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error)
}

// Journal 部署记录，可为nil
type Journal interface {
	Record(record *models.DeploymentRecord) error
}

// Result 部署结果
type Result struct {
	ChainID         uint64
	Sender          common.Address
	NetworkSender   common.Address
	ContractAddress common.Address
	RawTransaction  []byte
	FundingTxHash   common.Hash
	DeployTxHash    common.Hash
	Confirmed       bool
}

// Deployer 部署编排器
type Deployer struct {
	config   *config.Config
	compiler compiler.Compiler
	chain    Chain
	wallet   Funder
	journal  Journal
	logger   *logrus.Logger

	pollConfig *wait.Config
	onState    func(State)
}

// New 创建部署编排器，journal 可为nil
func New(cfg *config.Config, c compiler.Compiler, chain Chain, wallet Funder, journal Journal, logger *logrus.Logger) *Deployer {
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}
	return &Deployer{
		config:   cfg,
		compiler: c,
		chain:    chain,
		wallet:   wallet,
		journal:  journal,
		logger:   logger,
	}
}

// OnStateChange 注册状态变化回调
func (d *Deployer) OnStateChange(fn func(State)) {
	d.onState = fn
}

// SetPollConfig 覆盖回执轮询的退避参数，超时仍取自配置
func (d *Deployer) SetPollConfig(pc *wait.Config) {
	d.pollConfig = pc
}

func (d *Deployer) enter(state State) *logrus.Entry {
	if d.onState != nil {
		d.onState(state)
	}
	entry := logging.NewStageLogger(d.logger, state.String())
	entry.Debug("进入阶段")
	return entry
}

// Plan 编译并构建部署交易，不发送任何交易
func (d *Deployer) Plan(ctx context.Context) (*builder.Deployment, error) {
	log := d.enter(StateCompiling)

	contract, err := d.compile(ctx)
	if err != nil {
		return nil, err
	}
	log.WithField("bytecode_size", len(contract.Bytecode)).Info("代理合约编译完成")

	chainID, err := d.chain.ChainID(ctx)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeBroadcast, errors.CodeRPCUnavailable, "获取链ID失败").
			WithComponent("deployer")
	}
	// 部署记录与日志按 uint64 记录链ID
	if chainID.Sign() < 0 || !chainID.IsUint64() {
		return nil, errors.NewDeployError(errors.ErrorTypeEncoding, errors.CodeInvalidInteger, "链ID超出 uint64 范围").
			WithContext("chain_id", chainID.String()).
			WithComponent("deployer")
	}

	deployment, err := builder.Build(contract.Bytecode, chainID)
	if err != nil {
		return nil, err
	}

	entry := logging.NewChainLogger(d.logger, chainID.Uint64(), deployment.Sender.Hex())
	entry.WithFields(logrus.Fields{
		"contract_address": deployment.ContractAddress.Hex(),
		"tx_hash":          deployment.Hash.Hex(),
		"raw_transaction":  codec.PrefixedHex(deployment.RawSigned),
	}).Info("部署交易已构建")

	checks := validation.NewValidator(d.logger, d.config.Deploy.Strict).Validate(deployment)
	for _, warning := range checks.Warnings {
		entry.WithField("network_sender", deployment.NetworkSender.Hex()).
			Warnf("%s：签名载荷包含 chainId，而原始交易未做 EIP-155 保护", warning)
	}
	if err := checks.Err(); err != nil {
		return nil, err
	}

	return deployment, nil
}

func (d *Deployer) compile(ctx context.Context) (*models.CompiledContract, error) {
	source, err := compiler.LoadSource(d.config.Compiler.SourcePath)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeCompilation, errors.CodeCompilerFailed, "读取代理合约源码失败").
			WithContext("path", d.config.Compiler.SourcePath).
			WithComponent("compiler")
	}

	contract, err := compiler.CompileProxy(ctx, d.compiler, source)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeCompilation) || errors.IsType(err, errors.ErrorTypeFormat) {
			return nil, err
		}
		return nil, errors.WrapError(err, errors.ErrorTypeCompilation, errors.CodeCompilerFailed, "编译代理合约失败").
			WithComponent("compiler")
	}
	return contract, nil
}

// Run 依次执行 Compiling → Funding → Broadcasting → Done，首个错误即终止，不做重试
func (d *Deployer) Run(ctx context.Context) (*Result, error) {
	deployment, err := d.Plan(ctx)
	if err != nil {
		return nil, err
	}

	chainID := deployment.UnsignedFields.ChainID.Uint64()
	result := &Result{
		ChainID:         chainID,
		Sender:          deployment.Sender,
		NetworkSender:   deployment.NetworkSender,
		ContractAddress: deployment.ContractAddress,
		RawTransaction:  deployment.RawSigned,
	}
	record := &models.DeploymentRecord{
		ChainID:         chainID,
		Sender:          deployment.Sender.Hex(),
		ContractAddress: deployment.ContractAddress.Hex(),
		RawTransaction:  codec.PrefixedHex(deployment.RawSigned),
		Status:          models.StatusBuilt,
	}
	d.record(record)

	if err := d.fund(ctx, deployment, result, record); err != nil {
		d.fail(record, err)
		return result, err
	}

	if err := d.broadcast(ctx, deployment, result, record); err != nil {
		d.fail(record, err)
		return result, err
	}

	d.enter(StateDone).WithFields(logrus.Fields{
		"chain_id":         chainID,
		"contract_address": result.ContractAddress.Hex(),
		"deploy_tx_hash":   result.DeployTxHash.Hex(),
		"confirmed":        result.Confirmed,
	}).Info("确定性部署代理部署完成")

	return result, nil
}

func (d *Deployer) fund(ctx context.Context, deployment *builder.Deployment, result *Result, record *models.DeploymentRecord) error {
	log := d.enter(StateFunding)
	amount := builder.FundingAmount()

	// 节点侧发送方的 nonce 已被使用时，原始交易必然被拒绝，不再注资
	nonce, err := d.chain.NonceAt(ctx, deployment.NetworkSender)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeBroadcast, errors.CodeRPCUnavailable, "查询发送方nonce失败").
			WithComponent("deployer")
	}
	if nonce != builder.ProxyNonce {
		return errors.NewDeployError(errors.ErrorTypeFunding, errors.CodeSenderNonceUsed, "发送方nonce已被使用，代理可能已部署").
			WithContext("network_sender", deployment.NetworkSender.Hex()).
			WithContext("nonce", nonce).
			WithComponent("deployer")
	}

	log.WithFields(logrus.Fields{
		"from":   d.wallet.Address().Hex(),
		"to":     deployment.Sender.Hex(),
		"amount": amount.String(),
	}).Info("向部署地址注资")

	tx, err := d.wallet.Transfer(ctx, deployment.Sender, amount)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeFunding, errors.CodeFundingRejected, "注资交易被拒绝").
			WithContext("sender", deployment.Sender.Hex()).
			WithComponent("deployer")
	}
	result.FundingTxHash = tx.Hash()
	record.FundingTxHash = tx.Hash().Hex()

	if d.config.Funding.WaitConfirmation {
		receipt, err := d.waiter(d.config.Funding).WaitMined(ctx, d.chain, tx.Hash())
		if err != nil {
			code := errors.CodeFundingRejected
			if stderrors.Is(err, wait.ErrTimeout) {
				code = errors.CodeFundingTimeout
			}
			return errors.WrapError(err, errors.ErrorTypeFunding, code, "等待注资交易确认失败").
				WithContext("tx_hash", tx.Hash().Hex()).
				WithComponent("deployer")
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return errors.NewDeployError(errors.ErrorTypeFunding, errors.CodeFundingReverted, "注资交易执行失败").
				WithContext("tx_hash", tx.Hash().Hex()).
				WithComponent("deployer")
		}
		log.WithField("block_number", receipt.BlockNumber).Info("注资交易已确认")
	}

	d.logBalances(ctx, log, deployment)

	record.Status = models.StatusFunded
	d.record(record)
	return nil
}

// logBalances 记录注资后的余额，查询失败只告警
func (d *Deployer) logBalances(ctx context.Context, log *logrus.Entry, deployment *builder.Deployment) {
	accounts := []common.Address{deployment.Sender}
	if !deployment.SenderMatchesNetwork() {
		accounts = append(accounts, deployment.NetworkSender)
	}
	for _, account := range accounts {
		balance, err := d.chain.BalanceAt(ctx, account)
		if err != nil {
			log.WithField("account", account.Hex()).Warnf("查询余额失败: %v", err)
			continue
		}
		log.WithFields(logrus.Fields{
			"account": account.Hex(),
			"balance": balance.String(),
		}).Info("账户余额")
	}
}

func (d *Deployer) broadcast(ctx context.Context, deployment *builder.Deployment, result *Result, record *models.DeploymentRecord) error {
	log := d.enter(StateBroadcasting)

	hash, err := d.chain.SendRawTransaction(ctx, deployment.RawSigned)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeBroadcast, errors.CodeBroadcastRejected, "部署交易被节点拒绝").
			WithContext("network_sender", deployment.NetworkSender.Hex()).
			WithComponent("deployer")
	}
	result.DeployTxHash = hash
	record.DeployTxHash = hash.Hex()
	record.Status = models.StatusBroadcast
	d.record(record)
	log.WithField("tx_hash", hash.Hex()).Info("部署交易已广播")

	if !d.config.Deploy.WaitConfirmation {
		return nil
	}

	receipt, err := d.waiter(d.config.Deploy).WaitMined(ctx, d.chain, hash)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeBroadcast, errors.CodeDeploymentFailed, "等待部署交易确认失败").
			WithContext("tx_hash", hash.Hex()).
			WithComponent("deployer")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return errors.NewDeployError(errors.ErrorTypeBroadcast, errors.CodeDeploymentFailed, "部署交易执行失败").
			WithContext("tx_hash", hash.Hex()).
			WithComponent("deployer")
	}

	// 以回执中的地址为准
	if receipt.ContractAddress != (common.Address{}) {
		result.ContractAddress = receipt.ContractAddress
		record.ContractAddress = receipt.ContractAddress.Hex()
	}

	code, err := d.chain.CodeAt(ctx, result.ContractAddress)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeBroadcast, errors.CodeDeploymentFailed, "查询代理合约代码失败").
			WithComponent("deployer")
	}
	if len(code) == 0 {
		return errors.NewDeployError(errors.ErrorTypeBroadcast, errors.CodeDeploymentFailed, "代理合约地址上没有代码").
			WithContext("contract_address", result.ContractAddress.Hex()).
			WithComponent("deployer")
	}

	result.Confirmed = true
	record.Status = models.StatusDeployed
	d.record(record)
	return nil
}

func (d *Deployer) waiter(step *config.StepConfig) *wait.Waiter {
	pc := *wait.DefaultConfig
	if d.pollConfig != nil {
		pc = *d.pollConfig
	}
	pc.Timeout = config.ParseTimeout(step.Timeout, wait.DefaultConfig.Timeout)
	return wait.NewWaiter(&pc, d.logger)
}

func (d *Deployer) fail(record *models.DeploymentRecord, err error) {
	record.Status = models.StatusFailed
	record.Error = err.Error()
	d.record(record)
}

// record 写入部署记录，失败只告警，不影响部署流程
func (d *Deployer) record(record *models.DeploymentRecord) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Record(record); err != nil {
		d.logger.WithField("chain_id", record.ChainID).Warnf("写入部署记录失败: %v", err)
	}
}

