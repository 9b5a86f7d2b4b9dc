package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_chainchat._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultRefreshInterval is the background node discovery interval.
	DefaultRefreshInterval = 10 * time.Second
	// DefaultScanTimeout bounds each discovery scan.
	DefaultScanTimeout = 3 * time.Second
)

// TXT record keys.
const (
	txtInstanceID = "instance_id"
	txtVersion    = "version"
	txtContract   = "contract"
	txtChainID    = "chain_id"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls mDNS advertiser and scanner behavior.
type Config struct {
	Service         string
	Domain          string
	Version         int
	RefreshInterval time.Duration
	ScanTimeout     time.Duration

	InstanceID   string
	InstanceName string
	APIPort      int
	Contract     string
	ChainID      uint64

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultRefreshInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if strings.TrimSpace(out.InstanceName) == "" {
		out.InstanceName = "chainchat-" + shortID(out.InstanceID)
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validateForAdvertise() error {
	if strings.TrimSpace(c.InstanceID) == "" {
		return errors.New("instance ID is required")
	}
	if c.APIPort <= 0 {
		return errors.New("API port must be > 0")
	}
	if strings.TrimSpace(c.Contract) == "" {
		return errors.New("contract address is required")
	}
	return nil
}

func (c Config) txtRecords() []string {
	return []string{
		txtInstanceID + "=" + c.InstanceID,
		txtVersion + "=" + strconv.Itoa(c.Version),
		txtContract + "=" + strings.ToLower(c.Contract),
		txtChainID + "=" + strconv.FormatUint(c.ChainID, 10),
	}
}

// Advertiser announces the local API via mDNS.
type Advertiser struct {
	server *zeroconf.Server
}

// StartAdvertiser registers and starts the mDNS announcement.
func StartAdvertiser(config Config) (*Advertiser, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForAdvertise(); err != nil {
		return nil, err
	}

	server, err := cfg.registerFn(cfg.InstanceName, cfg.Service, cfg.Domain, cfg.APIPort, cfg.txtRecords(), nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Advertiser{server: server}, nil
}

// Stop withdraws the announcement.
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// Service coordinates advertisement and scanning.
type Service struct {
	Advertiser *Advertiser
	Scanner    *NodeScanner
}

// Start starts the advertiser and scanner using one config.
func Start(config Config) (*Service, error) {
	cfg := config.withDefaults()

	advertiser, err := StartAdvertiser(cfg)
	if err != nil {
		return nil, err
	}

	scanner, err := NewNodeScanner(cfg)
	if err != nil {
		advertiser.Stop()
		return nil, err
	}
	if err := scanner.Start(); err != nil {
		advertiser.Stop()
		return nil, err
	}

	return &Service{
		Advertiser: advertiser,
		Scanner:    scanner,
	}, nil
}

// Stop stops the scanner and advertiser.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	if s.Scanner != nil {
		s.Scanner.Stop()
	}
	if s.Advertiser != nil {
		s.Advertiser.Stop()
	}
}

func shortID(id string) string {
	id = strings.ReplaceAll(strings.TrimSpace(id), "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "node"
	}
	return id
}
