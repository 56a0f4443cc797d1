package scanner

import (
	"reflect"
	"strings"
	"testing"
)

const ssOutput = `Netid State  Recv-Q Send-Q Local Address:Port  Peer Address:Port Process
tcp   LISTEN 0      128        0.0.0.0:22             0.0.0.0:*
tcp   LISTEN 0      511        0.0.0.0:80             0.0.0.0:*
tcp   LISTEN 0      511           [::]:80                [::]:*
udp   UNCONN 0      0          0.0.0.0:68             0.0.0.0:*
tcp   LISTEN 0      4096     127.0.0.1:5432           0.0.0.0:*
`

func TestParsePorts(t *testing.T) {
	got := ParsePorts(ssOutput)
	want := []int{22, 68, 80, 5432}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParsePorts() = %v, want %v", got, want)
	}
}

func TestParsePorts_DeduplicatesDualStack(t *testing.T) {
	got := ParsePorts(ssOutput)
	count := 0
	for _, p := range got {
		if p == 80 {
			count++
		}
	}
	if count != 1 {
		t.Errorf("port 80 appears %d times, want 1", count)
	}
}

func TestParsePorts_EmptyAndGarbage(t *testing.T) {
	if got := ParsePorts(""); len(got) != 0 {
		t.Errorf("ParsePorts(\"\") = %v, want empty", got)
	}
	if got := ParsePorts("not ss output at all\nshort line"); len(got) != 0 {
		t.Errorf("ParsePorts(garbage) = %v, want empty", got)
	}
}

func TestParseSSHDConfig(t *testing.T) {
	config := `# sshd_config
Port 22

PermitRootLogin no
PasswordAuthentication yes
X11Forwarding no
`
	got := ParseSSHDConfig(strings.NewReader(config))

	if got["permit_root_login"] != "no" {
		t.Errorf("permit_root_login = %v, want no", got["permit_root_login"])
	}
	if got["password_authentication"] != "yes" {
		t.Errorf("password_authentication = %v, want yes", got["password_authentication"])
	}
	if _, ok := got["port"]; ok {
		t.Error("unrelated directives must not be collected")
	}
}

func TestParseSSHDConfig_CaseInsensitiveDirectives(t *testing.T) {
	config := "permitrootlogin prohibit-password\nPASSWORDAUTHENTICATION no\n"
	got := ParseSSHDConfig(strings.NewReader(config))

	if got["permit_root_login"] != "prohibit-password" {
		t.Errorf("permit_root_login = %v, want prohibit-password", got["permit_root_login"])
	}
	if got["password_authentication"] != "no" {
		t.Errorf("password_authentication = %v, want no", got["password_authentication"])
	}
}

func TestParseSSHDConfig_CommentsAndBlanksIgnored(t *testing.T) {
	config := `
# PermitRootLogin yes
`
	got := ParseSSHDConfig(strings.NewReader(config))
	if len(got) != 0 {
		t.Errorf("ParseSSHDConfig() = %v, want empty from comments only", got)
	}
}
