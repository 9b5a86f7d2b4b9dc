package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// EventNodeUpserted is emitted when a node appears or its announcement changes.
	EventNodeUpserted EventType = "node_upserted"
	// EventNodeRemoved is emitted when a node is missing from the latest scan.
	EventNodeRemoved EventType = "node_removed"
)

// ErrScannerStopped is returned by Refresh after Stop.
var ErrScannerStopped = errors.New("discovery: node scanner is stopped")

// EventType identifies node discovery updates.
type EventType string

// Event carries discovery updates.
type Event struct {
	Type EventType
	Node Node
}

// Node is another chainchat API instance found on the LAN.
type Node struct {
	InstanceID string    `json:"instance_id"`
	Name       string    `json:"name"`
	Version    int       `json:"version"`
	Contract   string    `json:"contract"`
	ChainID    uint64    `json:"chain_id"`
	HostName   string    `json:"host_name"`
	Port       int       `json:"port"`
	Addresses  []string  `json:"addresses"`
	LastSeen   time.Time `json:"last_seen"`
}

// SameNetwork reports whether the node talks to the given contract on the given chain.
func (n Node) SameNetwork(contract string, chainID uint64) bool {
	return strings.EqualFold(n.Contract, contract) && n.ChainID == chainID
}

// NodeScanner keeps the set of chainchat nodes visible on the LAN.
//
// Entries announcing the scanner's own instance ID are skipped. When
// Config.Contract is set only nodes on that contract and chain are kept.
type NodeScanner struct {
	cfg    Config
	browse browseFunc

	// scanMu serialises browses so snapshots apply in order.
	scanMu sync.Mutex

	mu     sync.RWMutex
	nodes  map[string]Node
	events chan Event

	lifecycle sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   bool
	done      chan struct{}
}

// NewNodeScanner creates a scanner with config defaults applied.
func NewNodeScanner(config Config) (*NodeScanner, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	return &NodeScanner{
		cfg:    cfg,
		browse: browse,
		nodes:  make(map[string]Node),
		events: make(chan Event, 128),
	}, nil
}

// Start begins scanning every RefreshInterval. Calling it twice is a no-op.
func (s *NodeScanner) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.stopped {
		return ErrScannerStopped
	}
	if s.ctx != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	go s.poll(s.ctx)
	return nil
}

// Stop ends scanning and closes the event channel.
func (s *NodeScanner) Stop() {
	s.lifecycle.Lock()
	if s.stopped {
		s.lifecycle.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.lifecycle.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.scanMu.Lock()
	close(s.events)
	s.scanMu.Unlock()
}

// Events provides asynchronous discovery updates.
func (s *NodeScanner) Events() <-chan Event {
	return s.events
}

// Refresh runs a scan now and waits for it to finish.
func (s *NodeScanner) Refresh(ctx context.Context) error {
	s.lifecycle.Lock()
	scannerCtx, stopped := s.ctx, s.stopped
	s.lifecycle.Unlock()
	switch {
	case stopped:
		return ErrScannerStopped
	case scannerCtx == nil:
		return errors.New("node scanner is not started")
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(scannerCtx, cancel)()

	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if scannerCtx.Err() != nil {
		return ErrScannerStopped
	}
	err := s.scan(scanCtx)
	if scannerCtx.Err() != nil {
		return ErrScannerStopped
	}
	return err
}

// ListNodes returns the nodes seen by the latest scan, sorted by name.
func (s *NodeScanner) ListNodes() []Node {
	s.mu.RLock()
	out := make([]Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		out = append(out, node)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Node) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.InstanceID, b.InstanceID))
	})
	return out
}

func (s *NodeScanner) poll(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		s.scanMu.Lock()
		_ = s.scan(ctx)
		s.scanMu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// scan browses for ScanTimeout and replaces the node set with what it
// heard. A cancelled ctx leaves the previous set untouched. Callers hold
// scanMu.
func (s *NodeScanner) scan(ctx context.Context) error {
	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	found := make(map[string]Node)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		in := entries
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				if node, keep := s.accept(entry); keep {
					node.LastSeen = time.Now()
					found[node.InstanceID] = node
				}
			}
		}
	}()

	err := s.browse(scanCtx, s.cfg.Service, s.cfg.Domain, entries)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		cancel()
		<-collected
		return fmt.Errorf("browse %s: %w", s.cfg.Service, err)
	}
	<-scanCtx.Done()
	<-collected

	if err := ctx.Err(); err != nil {
		return err
	}
	s.apply(found)
	return nil
}

func (s *NodeScanner) accept(entry *zeroconf.ServiceEntry) (Node, bool) {
	if entry == nil {
		return Node{}, false
	}
	node, ok := parseEntry(entry)
	if !ok || node.InstanceID == s.cfg.InstanceID {
		return Node{}, false
	}
	if s.cfg.Contract != "" && !node.SameNetwork(s.cfg.Contract, s.cfg.ChainID) {
		return Node{}, false
	}
	return node, true
}

func (s *NodeScanner) apply(next map[string]Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, node := range next {
		if old, exists := s.nodes[id]; !exists || !sameAnnouncement(old, node) {
			s.emit(Event{Type: EventNodeUpserted, Node: node})
		}
	}
	for id, node := range s.nodes {
		if _, exists := next[id]; !exists {
			s.emit(Event{Type: EventNodeRemoved, Node: node})
		}
	}
	s.nodes = next
}

func (s *NodeScanner) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

// sameAnnouncement compares two nodes ignoring when they were seen.
func sameAnnouncement(a, b Node) bool {
	a.LastSeen, b.LastSeen = time.Time{}, time.Time{}
	return reflect.DeepEqual(a, b)
}

func parseEntry(entry *zeroconf.ServiceEntry) (Node, bool) {
	txt := make(map[string]string, len(entry.Text))
	for _, field := range entry.Text {
		if key, value, ok := strings.Cut(field, "="); ok {
			txt[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}

	node := Node{
		InstanceID: txt[txtInstanceID],
		Contract:   txt[txtContract],
		HostName:   entry.HostName,
		Port:       entry.Port,
		Name:       cmp.Or(strings.TrimSpace(entry.Instance), strings.TrimSpace(entry.HostName), txt[txtInstanceID]),
	}
	if node.InstanceID == "" {
		return Node{}, false
	}
	node.Version, _ = strconv.Atoi(txt[txtVersion])
	node.ChainID, _ = strconv.ParseUint(txt[txtChainID], 10, 64)

	for _, ip := range slices.Concat(entry.AddrIPv4, entry.AddrIPv6) {
		if ip != nil {
			node.Addresses = append(node.Addresses, ip.String())
		}
	}
	slices.Sort(node.Addresses)
	node.Addresses = slices.Compact(node.Addresses)
	return node, true
}
