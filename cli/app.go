package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"chainchat/config"
	"chainchat/contract"
	"chainchat/crypto"
	"chainchat/logging"
	"chainchat/messenger"
	"chainchat/metrics"
	"chainchat/storage"
	"chainchat/timeline"
	"chainchat/wallet"
)

// app holds the components a command needs. Fields are nil when the command
// did not ask for them.
type app struct {
	cfg     *config.Config
	cfgPath string
	dataDir string
	logger  *slog.Logger

	store      *storage.Store
	client     *ethclient.Client
	gateway    *contract.Gateway
	provider   wallet.Provider
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	controller *messenger.Controller
}

type appOptions struct {
	// chain dials the RPC endpoint and builds the gateway and controller.
	chain bool
	// approve prompts before signing. Nil auto-approves.
	approve wallet.ApproveFunc
	logOut  io.Writer
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logOut := opts.logOut
	if logOut == nil {
		logOut = os.Stderr
	}
	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, logOut)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	a := &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		dataDir: filepath.Dir(cfgPath),
		logger:  logger,
	}

	store, dbPath, err := storage.Open(a.dataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.store = store
	logger.Debug("database opened", "path", dbPath)

	failed, err := settleStaleJournal(store, cfg.Confirmation(), time.Now())
	if err != nil {
		logger.Warn("settle stale journal entries failed", "error", err)
	} else if failed > 0 {
		logger.Info("settled stale journal entries", "count", failed)
	}

	if !opts.chain {
		return a, nil
	}

	if err := a.initChain(ctx, opts.approve); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) initChain(ctx context.Context, approve wallet.ApproveFunc) error {
	cfg := a.cfg

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc %s: %w", cfg.RPCURL, err)
	}
	a.client = client

	variant, err := contract.VariantByName(cfg.ContractVariant)
	if err != nil {
		return err
	}
	fee, err := cfg.MessageFee()
	if err != nil {
		return err
	}
	timeout := cfg.Confirmation()
	if timeout == 0 {
		timeout = -1
	}
	var chainID *big.Int
	if cfg.ChainID > 0 {
		chainID = big.NewInt(cfg.ChainID)
	}

	gateway, err := contract.NewGateway(contract.Options{
		Backend:                client,
		Contract:               common.HexToAddress(cfg.ContractAddress),
		Variant:                variant,
		ChainID:                chainID,
		MessageFee:             fee,
		ConfirmationTimeout:    timeout,
		PollInterval:           cfg.ReceiptPollInterval,
		BlockTimes:             a.store,
		HeaderLookupsPerSecond: cfg.HeaderLookupsPerSecond,
		Logger:                 a.logger,
	})
	if err != nil {
		return err
	}
	a.gateway = gateway

	provider, err := loadProvider(cfg, approve)
	if err != nil {
		return err
	}
	a.provider = provider

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	controller, err := messenger.New(messenger.Options{
		Session:       wallet.NewSession(provider),
		Gateway:       gateway,
		Journal:       a.store,
		Metrics:       a.metrics,
		Logger:        a.logger,
		Contract:      gateway.Contract().Hex(),
		HistoryBlocks: cfg.HistoryBlocks,
		Window: timeline.Window{
			Blocks:   cfg.RetentionBlocks,
			Duration: cfg.RetentionWindow,
		},
		MaxMessageLength: cfg.MaxMessageLength,
		ExplorerTxURL:    cfg.ExplorerTxURL,
	})
	if err != nil {
		return err
	}
	a.controller = controller
	return nil
}

// loadProvider returns the wallet provider from CHAINCHAT_PRIVATE_KEY or the
// key file. It returns a nil provider when neither is present.
func loadProvider(cfg *config.Config, approve wallet.ApproveFunc) (wallet.Provider, error) {
	if hexKey := strings.TrimSpace(os.Getenv(config.PrivateKeyEnv)); hexKey != "" {
		provider, err := wallet.NewKeyProviderFromHex(hexKey, approve)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.PrivateKeyEnv, err)
		}
		return provider, nil
	}

	key, err := crypto.LoadWalletKey(cfg.KeyPath, os.Getenv(config.KeyPassphraseEnv))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load wallet key: %w", err)
	}
	return wallet.NewKeyProvider(key, approve)
}

// Close stops the controller and releases connections.
func (a *app) Close() {
	if a == nil {
		return
	}
	if a.controller != nil {
		a.controller.Stop()
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("database close error", "error", err)
		}
	}
}

// settleStaleJournal fails pending entries older than the confirmation
// timeout. A disabled timeout leaves every pending entry alone.
func settleStaleJournal(store *storage.Store, timeout time.Duration, now time.Time) (int64, error) {
	if timeout <= 0 {
		return 0, nil
	}
	return store.FailStalePending(now.Add(-timeout).UnixMilli(), "abandoned by previous run")
}
