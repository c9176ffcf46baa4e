package zfs

const (
	DefaultZFSCommand = "zfs"
	DefaultSSHCommand = "ssh"
	DefaultCipher     = "arcfour"
)

// Transport determines how the zfs binary is invoked for a host:
// directly for the local host, through a non-interactive ssh session otherwise.
type Transport struct {
	Host string
	// Trust disables host key verification for remote hosts.
	Trust bool
	// Compression enables ssh compression for remote hosts.
	Compression bool

	ZFSCommand string
	SSHCommand string
	Cipher     string
}

func LocalTransport() Transport {
	return Transport{Host: "localhost"}
}

func IsLocalHost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func (t Transport) IsLocal() bool {
	return IsLocalHost(t.Host)
}

func (t Transport) WithCompression(compression bool) Transport {
	t.Compression = compression
	return t
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Prefix returns the argument vector that precedes every zfs subcommand.
// The last element is always the zfs binary.
func (t Transport) Prefix() []string {
	zfs := orDefault(t.ZFSCommand, DefaultZFSCommand)
	if t.IsLocal() {
		return []string{zfs}
	}
	prefix := []string{
		orDefault(t.SSHCommand, DefaultSSHCommand),
		"-o", "BatchMode yes",
		"-a", "-x",
		"-c", orDefault(t.Cipher, DefaultCipher),
	}
	if t.Trust {
		prefix = append(prefix, "-o", "CheckHostIP no", "-o", "StrictHostKeyChecking no")
	}
	if t.Compression {
		prefix = append(prefix, "-C")
	}
	return append(prefix, t.Host, zfs)
}

// Command returns Prefix() followed by args.
func (t Transport) Command(args ...string) []string {
	prefix := t.Prefix()
	return append(prefix, args...)
}

func (t Transport) String() string {
	if t.IsLocal() {
		return "localhost"
	}
	return t.Host
}
