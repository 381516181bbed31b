package signal

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvertiseRegistersTXT(t *testing.T) {
	var gotService string
	var gotPort int
	var gotText []string
	register := func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
		gotService, gotPort, gotText = service, port, text
		return nil, nil
	}

	adv, err := advertise(register, "laptop", "dev-1", 4242)
	require.NoError(t, err)
	adv.Stop()

	assert.Equal(t, MDNSService, gotService)
	assert.Equal(t, 4242, gotPort)
	assert.Contains(t, gotText, "device_id=dev-1")
	assert.Contains(t, gotText, "path="+PairPath)
}

func TestAdvertiseValidates(t *testing.T) {
	register := func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
		return nil, errors.New("should not be called")
	}
	_, err := advertise(register, "", "dev", 1)
	assert.Error(t, err)
	_, err = advertise(register, "laptop", "dev", 0)
	assert.Error(t, err)
}

func TestBrowseCollectsEndpoints(t *testing.T) {
	withAddr := zeroconf.NewServiceEntry("laptop", MDNSService, MDNSDomain)
	withAddr.Port = 4242
	withAddr.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	withAddr.Text = []string{"device_id=dev-1", "path=/pair"}

	hostOnly := zeroconf.NewServiceEntry("desk", MDNSService, MDNSDomain)
	hostOnly.Port = 5000
	hostOnly.HostName = "desk.local."

	noPort := zeroconf.NewServiceEntry("broken", MDNSService, MDNSDomain)

	fn := func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
		go func() {
			defer close(entries)
			for _, e := range []*zeroconf.ServiceEntry{withAddr, withAddr, hostOnly, noPort} {
				entries <- e
			}
		}()
		return nil
	}

	got, err := browse(context.Background(), fn, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "dev-1", got[0].DeviceID)
	assert.Equal(t, "ws://192.168.1.20:4242/pair", got[0].URL())
	assert.Equal(t, "ws://desk.local:5000/pair", got[1].URL())
}

func TestBrowseReportsFailure(t *testing.T) {
	fn := func(context.Context, string, string, chan<- *zeroconf.ServiceEntry) error {
		return errors.New("no multicast interface")
	}
	_, err := browse(context.Background(), fn, time.Second)
	assert.Error(t, err)
}
