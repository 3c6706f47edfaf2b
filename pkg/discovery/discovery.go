// Package discovery advertises the equipment backend on the local
// network over mDNS and lets simulators and consoles find it without
// a configured address.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Service constants.
const (
	// ServiceType is the mDNS service type of the backend.
	ServiceType = "_campuseq._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultBrowseTimeout bounds a Find call.
	DefaultBrowseTimeout = 5 * time.Second
)

// Info describes one advertised backend instance.
type Info struct {
	// Instance is the advertised instance name.
	Instance string

	// Host is the reachable host name or address.
	Host string

	// Port is the TCP listen port.
	Port int

	// Version is the advertised protocol version from the TXT record.
	Version string
}

// Addr returns the dialable host:port.
func (i *Info) Addr() string {
	return net.JoinHostPort(i.Host, fmt.Sprintf("%d", i.Port))
}

// Advertiser announces a running backend over mDNS.
type Advertiser struct {
	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an idle advertiser.
func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Start registers the service. A second Start replaces the previous
// registration.
func (a *Advertiser) Start(instance string, port int, version string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := []string{"version=" + version}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.server = server
	return nil
}

// Stop withdraws the registration. Safe to call when idle.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Find browses for advertised backends until the timeout elapses or
// the context is canceled, and returns everything seen.
func Find(ctx context.Context, timeout time.Duration) ([]*Info, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	var (
		mu    sync.Mutex
		found []*Info
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if info := entryToInfo(entry); info != nil {
					mu.Lock()
					found = append(found, info)
					mu.Unlock()
				}
			case <-removed:
				// One-shot browse; departures are irrelevant.
			case <-ctx.Done():
				return
			}
		}
	}()

	// Browse blocks until the context ends.
	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	}()
	<-ctx.Done()
	<-done

	mu.Lock()
	defer mu.Unlock()
	return found, nil
}

func entryToInfo(entry *zeroconf.ServiceEntry) *Info {
	if entry == nil {
		return nil
	}
	info := &Info{
		Instance: entry.Instance,
		Port:     entry.Port,
	}
	switch {
	case len(entry.AddrIPv4) > 0:
		info.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		info.Host = entry.AddrIPv6[0].String()
	default:
		info.Host = entry.HostName
	}
	for _, txt := range entry.Text {
		if len(txt) > 8 && txt[:8] == "version=" {
			info.Version = txt[8:]
		}
	}
	return info
}
