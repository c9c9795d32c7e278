// Package discover finds boards announcing their console service over
// mDNS on the local network. The caller feeds a found address straight
// into the socket transport.
package discover

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/juju/errors"

	"github.com/fugu-mppt/fugu-go/log2"
)

// Boards announce "_scope._tcp" (the firmware also serves its
// oscilloscope stream on the same port).
const (
	Service = "_scope._tcp"
	Domain  = "local."

	DefaultTimeout = 1 * time.Second
)

type Board struct {
	IP   net.IP
	Port int
	Host string
}

func (b Board) Addr() string { return net.JoinHostPort(b.IP.String(), strconv.Itoa(b.Port)) }

// Scopes browses the LAN for up to timeout, returning at most limit
// distinct boards (limit<=0 means unlimited).
func Scopes(ctx context.Context, limit int, timeout time.Duration, log *log2.Log) ([]Board, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, errors.Annotate(err, "mdns resolver")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err = resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, errors.Annotate(err, "mdns browse")
	}

	seen := make(map[string]struct{})
	var out []Board
	for entry := range entries {
		for _, ip := range entry.AddrIPv4 {
			b := Board{IP: ip, Port: entry.Port, Host: entry.HostName}
			if _, dup := seen[b.Addr()]; dup {
				continue
			}
			seen[b.Addr()] = struct{}{}
			log.Debugf("discover %s host=%s", b.Addr(), b.Host)
			out = append(out, b)
			if limit > 0 && len(out) >= limit {
				cancel()
			}
		}
	}
	return out, nil
}
