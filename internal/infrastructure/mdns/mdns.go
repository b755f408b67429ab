// Package mdns advertises the REST API on the local network via zeroconf.
package mdns

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/nerrad567/portal-bridge/internal/infrastructure/config"
)

// Defaults for an unset config.
const (
	DefaultInstance = "Portal Bridge"
	DefaultService  = "_http._tcp"
	DefaultDomain   = "local."
)

// ErrDisabled is returned by Advertise when mDNS is turned off.
var ErrDisabled = errors.New("mdns: disabled in configuration")

// shutdowner is the part of *zeroconf.Server the advertiser uses.
type shutdowner interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (shutdowner, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Advertiser owns one zeroconf registration.
type Advertiser struct {
	mu       sync.Mutex
	server   shutdowner
	register registerFunc
}

// New returns an advertiser backed by zeroconf.
func New() *Advertiser {
	return &Advertiser{register: zeroconfRegister}
}

// Advertise registers the API at port with TXT records for the device list
// path and version. Calling it again replaces the previous registration.
func (a *Advertiser) Advertise(cfg config.MDNSConfig, port int, version string) error {
	if !cfg.Enabled {
		return ErrDisabled
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("mdns: invalid port %d", port)
	}

	instance := cfg.Instance
	if instance == "" {
		instance = DefaultInstance
	}
	service := cfg.Service
	if service == "" {
		service = DefaultService
	}
	domain := cfg.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	txt := []string{"path=/devices"}
	if version != "" {
		txt = append(txt, "version="+version)
	}

	srv, err := a.register(instance, service, domain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("mdns: registering %s on %s: %w", instance, service, err)
	}

	a.mu.Lock()
	prev := a.server
	a.server = srv
	a.mu.Unlock()
	if prev != nil {
		prev.Shutdown()
	}
	return nil
}

// Close withdraws the advertisement. Safe to call when nothing is registered.
func (a *Advertiser) Close() {
	a.mu.Lock()
	srv := a.server
	a.server = nil
	a.mu.Unlock()
	if srv != nil {
		srv.Shutdown()
	}
}
