package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/brutella/dnssd"
)

type MDNSAdapter struct{}

func (m *MDNSAdapter) Announce(ctx context.Context, serviceInfo ServiceInfo) (<-chan error, error) {
	cfg := dnssd.Config{
		Name:   serviceInfo.Name,
		Type:   serviceInfo.Type,
		Domain: serviceInfo.Domain,
		// mdns will multicast to ip address, so we can leave it nil
		IPs:  nil,
		Text: serviceInfo.Text,
		Port: serviceInfo.Port,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS responder: %w", err)
	}

	if _, err = rp.Add(service); err != nil {
		return nil, fmt.Errorf("failed to add mDNS service: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		err := rp.Respond(ctx)
		// Context cancellation is not an error in normal operation
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("failed to respond to mDNS service: %w", err)
			return
		}
		slog.Debug("Shutting down mDNS responder", "name", serviceInfo.Name)
	}()
	return errCh, nil
}

func (m *MDNSAdapter) Discover(ctx context.Context, service string) <-chan DiscoveryResult {
	outCh := make(chan DiscoveryResult, 10)

	send := func(result DiscoveryResult) {
		select {
		case outCh <- result:
		case <-ctx.Done():
		}
	}

	addFn := func(e dnssd.BrowseEntry) {
		send(DiscoveryResult{Kind: ServiceFound, Service: entryToService(e)})
	}

	rmvFn := func(e dnssd.BrowseEntry) {
		send(DiscoveryResult{Kind: ServiceLost, Service: entryToService(e)})
	}

	go func() {
		defer close(outCh)
		err := dnssd.LookupType(ctx, service, addFn, rmvFn)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			send(DiscoveryResult{Error: fmt.Errorf("mDNS lookup failed: %w", err)})
		}
	}()

	return outCh
}

func entryToService(e dnssd.BrowseEntry) ServiceInfo {
	var addr net.IP
	if len(e.IPs) > 0 {
		addr = e.IPs[0]
		// prefer IPv4 when both families were announced
		for _, ip := range e.IPs {
			if ip.To4() != nil {
				addr = ip
				break
			}
		}
	}
	return ServiceInfo{
		Name:   e.Name,
		Type:   e.Type,
		Domain: e.Domain,
		Addr:   addr,
		Port:   e.Port,
		Text:   e.Text,
	}
}
