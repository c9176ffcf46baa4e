package client

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/zfstools/zfstools/internal/config"
	"github.com/zfstools/zfstools/internal/zfs"
)

// Endpoint is a dataset (or snapshot) on a host, written [host:]name on the command line.
// IPv6 hosts are written in brackets, as in [::1]:tank/data.
type Endpoint struct {
	Host string
	Name string
}

func ParseEndpoint(s string) (Endpoint, error) {
	return parseEndpoint(s, false)
}

// parseEndpoint treats the text before the first ':' as a host only if it cannot be part of a
// dataset path, since dataset and snapshot names may contain ':' themselves.
func parseEndpoint(s string, allowEmptyName bool) (Endpoint, error) {
	host, name := "localhost", s
	if strings.HasPrefix(s, "[") {
		h, n, ok := strings.Cut(s[1:], "]:")
		if !ok {
			return Endpoint{}, errors.Errorf("%q: expected [host]:dataset", s)
		}
		host, name = h, n
	} else if h, n, ok := strings.Cut(s, ":"); ok && !strings.ContainsAny(h, "/@") {
		host, name = h, n
	}
	if name == "" && !allowEmptyName {
		return Endpoint{}, errors.Errorf("%q: dataset name must not be empty", s)
	}
	if host == "" {
		return Endpoint{}, errors.Errorf("%q: host must not be empty", s)
	}
	return Endpoint{Host: host, Name: name}, nil
}

func (e Endpoint) String() string {
	if strings.Contains(e.Host, ":") {
		return "[" + e.Host + "]:" + e.Name
	}
	return e.Host + ":" + e.Name
}

// transportFromConfig builds the transport for host with the binaries and cipher configured in c.
func transportFromConfig(c *config.Config, host string, trust bool) zfs.Transport {
	return zfs.Transport{
		Host:       host,
		Trust:      trust || c.Transfer.TrustRemote,
		ZFSCommand: c.ZFS.Binary,
		SSHCommand: c.SSH.Binary,
		Cipher:     c.SSH.Cipher,
	}
}

func connectionFromConfig(c *config.Config, host string, trust bool) *zfs.Connection {
	return zfs.NewConnection(transportFromConfig(c, host, trust))
}
