package checker

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/sentinelscope/internal/shared/errors"
)

// PortState classifies a single connect attempt.
type PortState uint8

const (
	PortOpen PortState = iota + 1
	PortClosed
	PortFiltered
	PortTimedOut
	portCancelled
)

func (s PortState) String() string {
	switch s {
	case PortOpen:
		return "open"
	case PortClosed:
		return "closed"
	case PortFiltered:
		return "filtered"
	case PortTimedOut:
		return "timed_out"
	default:
		return "cancelled"
	}
}

// PortBackend performs one TCP connect attempt. Implementations must honour
// ctx and the per-attempt timeout, and must release the socket before returning.
type PortBackend interface {
	Name() string
	Connect(ctx context.Context, ip net.IP, port int, timeout time.Duration) PortState
}

// PortScanResult contains the connect-scan outcome for one host.
type PortScanResult struct {
	Profile    string     `json:"profile"`
	Address    string     `json:"address"`
	Candidates int        `json:"candidates"`
	OpenPorts  []int      `json:"open_ports"`
	Closed     int        `json:"closed"`
	Filtered   int        `json:"filtered"`
	TimedOut   int        `json:"timed_out"`
	Services   []PortInfo `json:"services,omitempty"`
	Issues     []string   `json:"issues,omitempty"`
	Backend    string     `json:"backend"`
}

// PortInfo contains information about an open port
type PortInfo struct {
	Port        int    `json:"port"`
	Service     string `json:"service"` // Common service name (e.g., "http", "https", "ssh")
	Risk        string `json:"risk"`    // "critical", "high", "medium", "low", "info"
	Description string `json:"description,omitempty"`
}

// Summary renders a one-line description of the result.
func (r PortScanResult) Summary() string {
	if len(r.OpenPorts) == 0 {
		return fmt.Sprintf("no open ports (%d candidates)", r.Candidates)
	}
	ports := make([]string, len(r.OpenPorts))
	for i, p := range r.OpenPorts {
		ports[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("open: %s", strings.Join(ports, ","))
}

// PortScanner performs a bounded TCP connect scan.
type PortScanner struct {
	Resolver       Resolver
	Backend        PortBackend   // nil selects DefaultPortBackend()
	ConnectTimeout time.Duration // zero uses the fixed default
	Concurrency    int
}

// Scan resolves host once and probes every candidate port under the limiter.
func (s *PortScanner) Scan(ctx context.Context, host, profile string, candidates []int) (PortScanResult, error) {
	result := PortScanResult{Profile: profile}

	backend := s.Backend
	if backend == nil {
		backend = DefaultPortBackend()
	}
	result.Backend = backend.Name()

	timeout := s.ConnectTimeout
	if timeout <= 0 {
		timeout = consts.PortConnectTimeout
	}

	ip, err := s.resolve(ctx, host)
	if err != nil {
		return result, err
	}
	result.Address = ip.String()

	ports := sortedUnique(candidates)
	result.Candidates = len(ports)
	states := make([]PortState, len(ports))

	limiter := NewLimiter(s.Concurrency)
	var wg sync.WaitGroup
	for i, port := range ports {
		if err := limiter.Acquire(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(i, port int) {
			defer wg.Done()
			defer limiter.Release()
			states[i] = backend.Connect(ctx, ip, port, timeout)
		}(i, port)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	result.OpenPorts = []int{}
	for i, state := range states {
		switch state {
		case PortOpen:
			result.OpenPorts = append(result.OpenPorts, ports[i])
			result.Services = append(result.Services, describePort(ports[i]))
		case PortClosed:
			result.Closed++
		case PortTimedOut:
			result.TimedOut++
		default:
			result.Filtered++
		}
	}
	sort.Ints(result.OpenPorts)
	result.Issues = summarizePortRisks(result.Services)
	return result, nil
}

func (s *PortScanner) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	resolver := s.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	// Prefer IPv4: far more hosts answer on it.
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	if len(addrs) > 0 {
		return addrs[0].IP, nil
	}
	return nil, fmt.Errorf("resolve %s: %w", host, sharedErrors.ErrNoAddresses)
}

var selectedBackend = sync.OnceValue(func() PortBackend {
	if strings.EqualFold(os.Getenv("SSCAN_PORT_BACKEND"), "dial") {
		return DialBackend{}
	}
	if backend, err := newPollBackend(); err == nil {
		return backend
	}
	return DialBackend{}
})

// DefaultPortBackend returns the accelerated backend when the platform
// supports it, otherwise the dialer. The choice is made once per process.
func DefaultPortBackend() PortBackend {
	return selectedBackend()
}

func describePort(port int) PortInfo {
	info := PortInfo{
		Port:    port,
		Service: getServiceName(port),
		Risk:    getPortRisk(port),
	}
	switch info.Risk {
	case SeverityCritical:
		info.Description = fmt.Sprintf("CRITICAL: Port %d (%s) should not be exposed to the internet", port, info.Service)
	case SeverityHigh:
		info.Description = fmt.Sprintf("HIGH RISK: Port %d (%s) exposed - ensure proper authentication and encryption", port, info.Service)
	case SeverityMedium:
		info.Description = fmt.Sprintf("MEDIUM RISK: Port %d (%s) exposed - review security configuration", port, info.Service)
	case SeverityLow:
		info.Description = fmt.Sprintf("LOW RISK: Port %d (%s) is a standard web port", port, info.Service)
	}
	return info
}

// getServiceName returns common service name for a port
func getServiceName(port int) string {
	services := map[int]string{
		21:    "ftp",
		22:    "ssh",
		23:    "telnet",
		25:    "smtp",
		53:    "dns",
		80:    "http",
		110:   "pop3",
		111:   "rpcbind",
		135:   "msrpc",
		139:   "netbios-ssn",
		143:   "imap",
		389:   "ldap",
		443:   "https",
		445:   "smb",
		465:   "smtps",
		587:   "submission",
		636:   "ldaps",
		993:   "imaps",
		995:   "pop3s",
		1433:  "mssql",
		1521:  "oracle",
		1723:  "pptp",
		2049:  "nfs",
		3306:  "mysql",
		3389:  "rdp",
		5432:  "postgresql",
		5900:  "vnc",
		5985:  "winrm",
		5986:  "winrm-https",
		6379:  "redis",
		8080:  "http-alt",
		8443:  "https-alt",
		9200:  "elasticsearch",
		11211: "memcached",
		25565: "minecraft",
		27017: "mongodb",
	}

	if service, ok := services[port]; ok {
		return service
	}
	return "unknown"
}

// getPortRisk assigns risk level to open ports
func getPortRisk(port int) string {
	switch port {
	case 23, 3389, 5900, 445, 5985, 5986: // Telnet, RDP, VNC, SMB, WinRM
		return SeverityCritical
	case 21, 22, 1433, 1521, 2049, 3306, 5432, 6379, 9200, 11211, 27017: // FTP, SSH, databases, caches
		return SeverityHigh
	case 25, 110, 143, 8080, 8443, 389, 111, 135, 139: // Mail, HTTP alts, directory, RPC
		return SeverityMedium
	case 80, 443:
		return SeverityLow
	}
	return SeverityInfo
}

// summarizePortRisks adds issues based on the open ports
func summarizePortRisks(open []PortInfo) []string {
	criticalCount := 0
	highCount := 0
	for _, port := range open {
		switch port.Risk {
		case SeverityCritical:
			criticalCount++
		case SeverityHigh:
			highCount++
		}
	}

	var issues []string
	if criticalCount > 0 {
		issues = append(issues,
			fmt.Sprintf("%d critical port(s) exposed (Telnet/RDP/VNC/SMB/WinRM)", criticalCount))
	}
	if highCount > 0 {
		issues = append(issues,
			fmt.Sprintf("%d high-risk port(s) exposed (SSH/Database/Cache)", highCount))
	}
	return issues
}
