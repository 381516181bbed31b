package signal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// MDNSService is the service type pairing endpoints are advertised under.
	MDNSService = "_lanbeam._tcp"
	// MDNSDomain is the mDNS domain.
	MDNSDomain = "local."
	// DefaultBrowseTimeout bounds one discovery scan.
	DefaultBrowseTimeout = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// ErrNoEndpoint is returned when a scan finds no pairing endpoint.
var ErrNoEndpoint = errors.New("no pairing endpoint found")

// Endpoint is a pairing websocket found on the LAN.
type Endpoint struct {
	Instance string
	DeviceID string
	Host     string
	Port     int
	Path     string
}

// URL returns the ws:// URL of the endpoint.
func (e Endpoint) URL() string {
	path := e.Path
	if path == "" {
		path = PairPath
	}
	return "ws://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) + path
}

// Advertiser publishes a pairing endpoint over mDNS.
type Advertiser struct {
	server *zeroconf.Server
	once   sync.Once
}

// Advertise registers the pairing endpoint listening on port.
func Advertise(instance, deviceID string, port int) (*Advertiser, error) {
	return advertise(zeroconf.Register, instance, deviceID, port)
}

func advertise(register registerFunc, instance, deviceID string, port int) (*Advertiser, error) {
	if strings.TrimSpace(instance) == "" {
		return nil, errors.New("instance name is required")
	}
	if port <= 0 {
		return nil, errors.New("port must be > 0")
	}
	txt := []string{
		"device_id=" + deviceID,
		"path=" + PairPath,
	}
	server, err := register(instance, MDNSService, MDNSDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Stop withdraws the advertisement. It is safe to call more than once.
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.once.Do(a.server.Shutdown)
}

// Browse scans for pairing endpoints until timeout or ctx ends.
func Browse(ctx context.Context, timeout time.Duration) ([]Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("create mDNS resolver: %w", err)
	}
	return browse(ctx, resolver.Browse, timeout)
}

func browse(ctx context.Context, fn browseFunc, timeout time.Duration) ([]Endpoint, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- fn(scanCtx, MDNSService, MDNSDomain, entries)
	}()

	seen := make(map[string]bool)
	var out []Endpoint
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			ep, ok := endpointFromEntry(entry)
			if !ok || seen[ep.Instance] {
				continue
			}
			seen[ep.Instance] = true
			out = append(out, ep)
		case <-scanCtx.Done():
			if err := ctx.Err(); err != nil {
				return out, err
			}
			return out, nil
		case err := <-errc:
			if err != nil {
				return out, fmt.Errorf("browse mDNS: %w", err)
			}
			errc = nil
		}
	}
}

// Discover returns the first pairing endpoint found within timeout.
func Discover(ctx context.Context, timeout time.Duration) (Endpoint, error) {
	endpoints, err := Browse(ctx, timeout)
	if err != nil {
		return Endpoint{}, err
	}
	if len(endpoints) == 0 {
		return Endpoint{}, ErrNoEndpoint
	}
	return endpoints[0], nil
}

func endpointFromEntry(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry == nil || entry.Port <= 0 {
		return Endpoint{}, false
	}
	ep := Endpoint{Instance: entry.Instance, Port: entry.Port, Path: PairPath}
	for _, kv := range entry.Text {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "device_id":
			ep.DeviceID = value
		case "path":
			if strings.HasPrefix(value, "/") {
				ep.Path = value
			}
		}
	}
	switch {
	case len(entry.AddrIPv4) > 0:
		ep.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		ep.Host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		ep.Host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return Endpoint{}, false
	}
	return ep, true
}
