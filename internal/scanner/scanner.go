// Package scanner collects the host fact context submitted to rule
// evaluation: hostname, OS attributes, open TCP ports and SSH hardening
// flags. Parsing is kept separate from process execution so it stays
// testable.
package scanner

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/fleetcomply/fleetcomply/internal/models"
)

const defaultSSHDConfigPath = "/etc/ssh/sshd_config"

// Scan gathers the full fact context for this host. Individual collectors
// degrade to empty sections rather than failing the scan; a host without an
// ss binary or sshd_config still produces a usable context.
func Scan(ctx context.Context) models.FactContext {
	hostname, _ := os.Hostname()

	return models.FactContext{
		"hostname": hostname,
		"os":       osInfo(),
		"network": map[string]any{
			"open_tcp_ports": openTCPPorts(ctx),
		},
		"ssh": sshdConfig(defaultSSHDConfigPath),
	}
}

func osInfo() map[string]any {
	info := map[string]any{
		"system":  runtime.GOOS,
		"machine": runtime.GOARCH,
	}
	if release := osRelease("/etc/os-release"); release != "" {
		info["release"] = release
	}
	return info
}

// osRelease extracts PRETTY_NAME from an os-release file, or "".
func osRelease(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scan := bufio.NewScanner(f)
	for scan.Scan() {
		line := scan.Text()
		if v, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(v, `"`)
		}
	}
	return ""
}

// openTCPPorts lists listening TCP ports via "ss -tuln". A missing binary or
// failed invocation yields an empty list.
func openTCPPorts(ctx context.Context) []int {
	out, err := exec.CommandContext(ctx, "ss", "-tuln").Output()
	if err != nil {
		return []int{}
	}
	return ParsePorts(string(out))
}

// ParsePorts extracts the sorted, deduplicated set of local ports from
// "ss -tuln" output. Local addresses look like "0.0.0.0:22" or "[::]:80".
func ParsePorts(output string) []int {
	seen := make(map[int]bool)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Netid") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		local := fields[4]
		i := strings.LastIndex(local, ":")
		if i < 0 {
			continue
		}
		port, err := strconv.Atoi(local[i+1:])
		if err != nil {
			continue
		}
		seen[port] = true
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// sshdConfig reads the hardening flags rules care about from sshd_config.
// A missing file yields an empty section.
func sshdConfig(path string) map[string]any {
	f, err := os.Open(path)
	if err != nil {
		return map[string]any{}
	}
	defer f.Close()
	return ParseSSHDConfig(f)
}

// ParseSSHDConfig extracts PermitRootLogin and PasswordAuthentication from an
// sshd_config stream. Directive names are case-insensitive per sshd.
func ParseSSHDConfig(r io.Reader) map[string]any {
	out := map[string]any{}

	scan := bufio.NewScanner(r)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			continue
		}
		value := strings.TrimSpace(fields[1])
		switch strings.ToLower(fields[0]) {
		case "permitrootlogin":
			out["permit_root_login"] = value
		case "passwordauthentication":
			out["password_authentication"] = value
		}
	}
	return out
}
