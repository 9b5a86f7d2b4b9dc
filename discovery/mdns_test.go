package discovery

import (
	"context"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

const testContract = "0xC89D0dC0C4B2B4B4A9e3C6b0E5bA0aC9B2A118CA"

func TestStartAdvertiserBuildsExpectedTXTRecords(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	cfg := Config{
		InstanceID: "4a7d1ed4-14c5-4c1f-9a77-3c3f2d8a6b10",
		APIPort:    8545,
		Contract:   testContract,
		ChainID:    10143,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	advertiser, err := StartAdvertiser(cfg)
	if err != nil {
		t.Fatalf("StartAdvertiser failed: %v", err)
	}
	if advertiser == nil {
		t.Fatalf("expected advertiser instance")
	}

	if gotInstance != "chainchat-4a7d1ed4" {
		t.Fatalf("unexpected instance name: %q", gotInstance)
	}
	if gotService != DefaultService {
		t.Fatalf("unexpected service: %q", gotService)
	}
	if gotDomain != DefaultDomain {
		t.Fatalf("unexpected domain: %q", gotDomain)
	}
	if gotPort != 8545 {
		t.Fatalf("unexpected port: %d", gotPort)
	}

	assertContainsTXT(t, gotTXT, "instance_id=4a7d1ed4-14c5-4c1f-9a77-3c3f2d8a6b10")
	assertContainsTXT(t, gotTXT, "version=1")
	assertContainsTXT(t, gotTXT, "contract=0xc89d0dc0c4b2b4b4a9e3c6b0e5ba0ac9b2a118ca")
	assertContainsTXT(t, gotTXT, "chain_id=10143")
}

func TestStartAdvertiserValidation(t *testing.T) {
	register := func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
		return nil, nil
	}

	cases := map[string]Config{
		"missing instance": {APIPort: 1, Contract: testContract, registerFn: register},
		"missing port":     {InstanceID: "id", Contract: testContract, registerFn: register},
		"missing contract": {InstanceID: "id", APIPort: 1, registerFn: register},
	}
	for name, cfg := range cases {
		if _, err := StartAdvertiser(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestServiceStartAndStop(t *testing.T) {
	cfg := Config{
		InstanceID: "self",
		APIPort:    8545,
		Contract:   testContract,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			return nil, nil
		},
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			<-ctx.Done()
			return nil
		},
	}

	svc, err := Start(cfg)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if svc.Advertiser == nil || svc.Scanner == nil {
		t.Fatalf("expected advertiser and scanner")
	}
	svc.Stop()
}

func assertContainsTXT(t *testing.T, txt []string, expected string) {
	t.Helper()
	for _, v := range txt {
		if v == expected {
			return
		}
	}
	t.Fatalf("missing TXT record %q in %v", expected, txt)
}
