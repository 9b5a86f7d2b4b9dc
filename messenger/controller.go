package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"chainchat/contract"
	"chainchat/metrics"
	"chainchat/models"
	"chainchat/storage"
	"chainchat/timeline"
	"chainchat/wallet"
)

var (
	// ErrEmptyMessage indicates a send with no text after trimming.
	ErrEmptyMessage = errors.New("messenger: message is empty")
	// ErrNotConnected indicates a send without a connected wallet.
	ErrNotConnected = errors.New("messenger: wallet not connected")
	// ErrMessageTooLong indicates a send over the configured length limit.
	ErrMessageTooLong = errors.New("messenger: message too long")
	// ErrStopped indicates the controller has been stopped.
	ErrStopped = errors.New("messenger: controller stopped")
)

const (
	defaultHistoryBlocks = 5000
	noticeBuffer         = 64
)

// Gateway is the chain access the controller drives.
type Gateway interface {
	Submit(ctx context.Context, signer wallet.Signer, text string) (common.Hash, error)
	AwaitConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	FetchHistory(ctx context.Context, windowBlocks uint64) (models.History, error)
}

// Journal persists submissions and their outcomes.
type Journal interface {
	RecordSubmission(entry storage.JournalEntry) error
	AttachTxHash(messageID, txHash string) error
	SettleJournalEntry(messageID, status string, blockNumber *int64, reason string) error
}

// Options configures a Controller.
type Options struct {
	Session *wallet.Session
	Gateway Gateway
	Store   *timeline.Store
	Journal Journal
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Contract is recorded in journal entries.
	Contract string

	HistoryBlocks    uint64
	Window           timeline.Window
	MaxMessageLength int
	ExplorerTxURL    string

	Now   func() time.Time
	NewID func() string
}

// Controller owns the wallet session, the message store and the gateway, and
// is the only writer of message state.
type Controller struct {
	options Options
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
	inFlight atomic.Int64

	fetchGen atomic.Uint64
	applyMu  sync.Mutex

	stateMu       sync.RWMutex
	stopping      bool
	noticesClosed bool
	notices       chan Notice
}

// New creates a controller with validated options.
func New(options Options) (*Controller, error) {
	if options.Session == nil {
		return nil, errors.New("session is required")
	}
	if options.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if options.Store == nil {
		options.Store = timeline.NewStore()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.HistoryBlocks == 0 {
		options.HistoryBlocks = defaultHistoryBlocks
	}
	if options.Window.Duration <= 0 {
		options.Window.Duration = timeline.DefaultRetention
	}
	if options.Window.Blocks == 0 {
		options.Window.Blocks = timeline.DefaultRetentionBlocks
	}
	if options.ExplorerTxURL == "" {
		options.ExplorerTxURL = models.DefaultExplorerTxURL
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.NewID == nil {
		options.NewID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		options: options,
		logger:  options.Logger.With("component", "messenger"),
		ctx:     ctx,
		cancel:  cancel,
		notices: make(chan Notice, noticeBuffer),
	}, nil
}

// Stop cancels in-flight deliveries, waits for them and closes the notice channel.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.stateMu.Lock()
		c.stopping = true
		c.stateMu.Unlock()

		c.cancel()
		c.wg.Wait()

		c.stateMu.Lock()
		c.noticesClosed = true
		close(c.notices)
		c.stateMu.Unlock()
	})
}

// Wait blocks until every in-flight delivery has settled.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Notices returns user-facing notifications. Notices are dropped when the
// buffer is full.
func (c *Controller) Notices() <-chan Notice {
	return c.notices
}

// InFlight returns the number of deliveries that have not settled.
func (c *Controller) InFlight() int {
	return int(c.inFlight.Load())
}

// Connect requests wallet access and stores the account in the session.
func (c *Controller) Connect(ctx context.Context) (common.Address, error) {
	account, err := c.options.Session.Connect(ctx)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrProviderUnavailable):
			c.emit(Notice{
				Title:       TitleWalletRequired,
				Description: "Configure a wallet key to use the messenger",
				Severity:    SeverityError,
			})
		default:
			c.emit(Notice{
				Title:       TitleConnectionFailed,
				Description: "Failed to connect to wallet",
				Severity:    SeverityError,
			})
		}
		c.logger.Warn("wallet connect failed", "error", err)
		return common.Address{}, err
	}

	c.emit(Notice{
		Title:       TitleWalletConnected,
		Description: "Connected to " + models.ShortAddress(account.Hex()),
		Severity:    SeverityInfo,
	})
	c.logger.Info("wallet connected", "account", account.Hex())
	return account, nil
}

// Disconnect forgets the connected account. In-flight deliveries continue.
func (c *Controller) Disconnect() {
	c.options.Session.Disconnect()
	c.logger.Info("wallet disconnected")
}

// Account returns the connected account, if any.
func (c *Controller) Account() (common.Address, bool) {
	return c.options.Session.Account()
}

// Send records text as a pending local message and delivers it in the
// background. The returned message is the pending entry.
func (c *Controller) Send(ctx context.Context, text string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}

	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.stopping {
		return models.Message{}, ErrStopped
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}
	account, ok := c.options.Session.Account()
	if !ok {
		return models.Message{}, ErrNotConnected
	}
	if limit := c.options.MaxMessageLength; limit > 0 && utf8.RuneCountInString(text) > limit {
		return models.Message{}, fmt.Errorf("%w: %d characters, limit %d", ErrMessageTooLong, utf8.RuneCountInString(text), limit)
	}

	msg := models.Message{
		ID:        c.options.NewID(),
		Content:   text,
		Timestamp: c.options.Now(),
		Sender:    account.Hex(),
		Status:    models.StatusPending,
	}
	if err := c.options.Store.InsertLocal(msg); err != nil {
		return models.Message{}, err
	}
	c.journal("record submission", msg.ID, func(j Journal) error {
		return j.RecordSubmission(storage.JournalEntry{
			MessageID:   msg.ID,
			Contract:    c.options.Contract,
			Sender:      msg.Sender,
			Content:     msg.Content,
			SubmittedAt: msg.Timestamp.UnixMilli(),
		})
	})
	c.options.Metrics.Submitted()

	c.wg.Add(1)
	c.inFlight.Add(1)
	go c.deliver(msg)

	return msg, nil
}

func (c *Controller) deliver(msg models.Message) {
	defer c.wg.Done()
	defer c.inFlight.Add(-1)

	ctx := c.ctx
	logger := c.logger.With("message_id", msg.ID)

	signer, err := c.options.Session.Signer(ctx)
	if err != nil {
		c.fail(msg, err)
		return
	}

	hash, err := c.options.Gateway.Submit(ctx, signer, msg.Content)
	if err != nil {
		c.fail(msg, err)
		return
	}
	txHash := hash.Hex()
	if _, err := c.options.Store.UpdateStatus(msg.ID, models.StatusPending, txHash); err != nil {
		logger.Warn("attach tx hash failed", "tx_hash", txHash, "error", err)
	}
	c.journal("attach tx hash", msg.ID, func(j Journal) error {
		return j.AttachTxHash(msg.ID, txHash)
	})
	c.emit(Notice{
		Title:       TitleTransactionSent,
		Description: "TX: " + models.ShortHash(txHash),
		Severity:    SeverityInfo,
		MessageID:   msg.ID,
		TxHash:      txHash,
		ExplorerURL: c.ExplorerURL(txHash),
	})
	logger.Info("message submitted", "tx_hash", txHash)

	receipt, err := c.options.Gateway.AwaitConfirmation(ctx, hash)
	if err != nil {
		c.fail(msg, err)
		return
	}

	if _, err := c.options.Store.UpdateStatus(msg.ID, models.StatusConfirmed, ""); err != nil {
		logger.Warn("confirm message failed", "error", err)
	}
	var block *int64
	if receipt != nil && receipt.BlockNumber != nil && receipt.BlockNumber.IsInt64() {
		n := receipt.BlockNumber.Int64()
		block = &n
	}
	c.journal("settle confirmed", msg.ID, func(j Journal) error {
		return j.SettleJournalEntry(msg.ID, storage.JournalStatusConfirmed, block, "")
	})
	c.options.Metrics.Confirmed()
	c.emit(Notice{
		Title:       TitleMessageConfirmed,
		Description: "Your message was recorded on chain",
		Severity:    SeverityInfo,
		MessageID:   msg.ID,
		TxHash:      txHash,
		ExplorerURL: c.ExplorerURL(txHash),
	})
	logger.Info("message confirmed", "tx_hash", txHash)
}

func (c *Controller) fail(msg models.Message, cause error) {
	reason := FailureReason(cause)
	logger := c.logger.With("message_id", msg.ID, "reason", reason)

	updated, err := c.options.Store.UpdateStatus(msg.ID, models.StatusFailed, "")
	if err != nil {
		logger.Warn("mark message failed", "error", err)
	}
	c.journal("settle failed", msg.ID, func(j Journal) error {
		return j.SettleJournalEntry(msg.ID, storage.JournalStatusFailed, nil, cause.Error())
	})
	c.options.Metrics.Failed(reason)
	c.emit(Notice{
		Title:       TitleTransactionFailed,
		Description: "Failed to send message to blockchain",
		Severity:    SeverityError,
		MessageID:   msg.ID,
		TxHash:      updated.TxHash,
		ExplorerURL: c.ExplorerURL(updated.TxHash),
	})
	logger.Warn("message delivery failed", "error", cause)
}

// FailureReason maps a delivery error to a short label.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, wallet.ErrUserRejected), errors.Is(err, contract.ErrSubmissionRejected):
		return "rejected"
	case errors.Is(err, contract.ErrTransactionReverted):
		return "reverted"
	case errors.Is(err, contract.ErrTimedOut):
		return "timeout"
	case errors.Is(err, contract.ErrNetwork):
		return "network"
	case errors.Is(err, wallet.ErrNotConnected), errors.Is(err, wallet.ErrProviderUnavailable),
		errors.Is(err, wallet.ErrConnectionFailed):
		return "wallet"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

// Refresh fetches recent history and reconciles it into the store. Only the
// most recently started refresh is applied; an older one that finishes later
// is discarded and reported as not applied.
func (c *Controller) Refresh(ctx context.Context) (bool, error) {
	gen := c.fetchGen.Add(1)
	started := time.Now()

	history, err := c.options.Gateway.FetchHistory(ctx, c.options.HistoryBlocks)
	if err != nil {
		c.options.Metrics.Fetched(metrics.FetchError, time.Since(started))
		if c.fetchGen.Load() == gen {
			c.emit(Notice{
				Title:       TitleHistoryUnavailable,
				Description: "Could not load recent messages",
				Severity:    SeverityError,
			})
		}
		c.logger.Warn("history fetch failed", "error", err)
		return false, err
	}

	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	if c.fetchGen.Load() != gen {
		c.options.Metrics.Fetched(metrics.FetchStale, time.Since(started))
		c.logger.Debug("stale history discarded", "generation", gen, "head_block", history.HeadBlock)
		return false, nil
	}

	now := c.options.Now()
	merged, err := c.options.Store.Merge(history, now, c.options.Window)
	if err != nil {
		c.options.Metrics.Fetched(metrics.FetchError, time.Since(started))
		return false, fmt.Errorf("reconcile history: %w", err)
	}
	c.options.Metrics.Fetched(metrics.FetchApplied, time.Since(started))
	c.options.Metrics.SetVisible(len(c.options.Store.ListVisible(now, c.options.Window.Duration)))
	c.logger.Debug("history applied", "head_block", history.HeadBlock, "events", len(history.Events), "messages", len(merged))
	return true, nil
}

// Messages returns the visible timeline, newest first.
func (c *Controller) Messages(now time.Time) []models.Message {
	return c.options.Store.ListVisible(now, c.options.Window.Duration)
}

// Message returns one stored message.
func (c *Controller) Message(id string) (models.Message, bool) {
	return c.options.Store.Get(id)
}

// Clear drops every stored message.
func (c *Controller) Clear() {
	c.options.Store.Clear()
	c.options.Metrics.SetVisible(0)
}

// ExplorerURL returns the block explorer link for a transaction hash.
func (c *Controller) ExplorerURL(txHash string) string {
	return models.ExplorerTxURL(c.options.ExplorerTxURL, txHash)
}

func (c *Controller) journal(action, messageID string, fn func(Journal) error) {
	if c.options.Journal == nil {
		return
	}
	if err := fn(c.options.Journal); err != nil {
		c.logger.Warn("journal write failed", "action", action, "message_id", messageID, "error", err)
	}
}

func (c *Controller) emit(notice Notice) {
	if notice.Time.IsZero() {
		notice.Time = c.options.Now()
	}

	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.noticesClosed {
		return
	}
	select {
	case c.notices <- notice:
	default:
	}
}
