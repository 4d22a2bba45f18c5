package system

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type recorder struct {
	calls  []string
	output map[string]string
	fail   string
}

func (r *recorder) run(name string, args ...string) ([]byte, error) {
	call := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, call)
	if r.fail != "" && strings.Contains(call, r.fail) {
		return nil, errors.New("boom")
	}
	for prefix, out := range r.output {
		if strings.HasPrefix(call, prefix) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

func (r *recorder) has(call string) bool {
	for _, c := range r.calls {
		if c == call {
			return true
		}
	}
	return false
}

func TestProxyManager_Linux(t *testing.T) {
	rec := &recorder{}
	p := &ProxyManager{goos: "linux", run: rec.run}

	if err := p.Enable("127.0.0.1:10809"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	for _, want := range []string{
		"gsettings set org.gnome.system.proxy.http host 127.0.0.1",
		"gsettings set org.gnome.system.proxy.http port 10809",
		"gsettings set org.gnome.system.proxy.https port 10809",
		"gsettings set org.gnome.system.proxy mode manual",
	} {
		if !rec.has(want) {
			t.Fatalf("missing call %q in %v", want, rec.calls)
		}
	}
	if last := rec.calls[len(rec.calls)-1]; last != "gsettings set org.gnome.system.proxy mode manual" {
		t.Fatalf("mode must be switched last, got %q", last)
	}

	if err := p.Disable(); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if !rec.has("gsettings set org.gnome.system.proxy mode none") {
		t.Fatalf("disable calls=%v", rec.calls)
	}
}

func TestProxyManager_LinuxFailure(t *testing.T) {
	rec := &recorder{fail: "mode manual"}
	p := &ProxyManager{goos: "linux", run: rec.run}
	if err := p.Enable("127.0.0.1:10809"); err == nil {
		t.Fatalf("expected error when gsettings fails")
	}
}

func TestProxyManager_LinuxStatus(t *testing.T) {
	rec := &recorder{output: map[string]string{
		"gsettings get org.gnome.system.proxy mode":      "'manual'\n",
		"gsettings get org.gnome.system.proxy.http host": "'127.0.0.1'\n",
		"gsettings get org.gnome.system.proxy.http port": "10809\n",
	}}
	p := &ProxyManager{goos: "linux", run: rec.run}

	s, err := p.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !s.Enabled || s.Server != "127.0.0.1:10809" {
		t.Fatalf("status=%+v", s)
	}
}

func TestProxyManager_MacOS(t *testing.T) {
	rec := &recorder{output: map[string]string{
		"networksetup -listallnetworkservices": "An asterisk (*) denotes that a network service is disabled.\nWi-Fi\n*Bluetooth PAN\nEthernet\n",
	}}
	p := &ProxyManager{goos: "darwin", run: rec.run}

	if err := p.Enable("127.0.0.1:10809"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	for _, want := range []string{
		"networksetup -setwebproxy Wi-Fi 127.0.0.1 10809",
		"networksetup -setsecurewebproxy Ethernet 127.0.0.1 10809",
	} {
		if !rec.has(want) {
			t.Fatalf("missing call %q in %v", want, rec.calls)
		}
	}
	for _, c := range rec.calls {
		if strings.Contains(c, "Bluetooth") {
			t.Fatalf("disabled service touched: %q", c)
		}
	}

	if err := p.Disable(); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if !rec.has("networksetup -setwebproxystate Wi-Fi off") {
		t.Fatalf("disable calls=%v", rec.calls)
	}
}

func TestProxyManager_MacOSFailure(t *testing.T) {
	services := map[string]string{
		"networksetup -listallnetworkservices": "An asterisk (*) denotes that a network service is disabled.\nWi-Fi\nEthernet\n",
	}

	rec := &recorder{output: services, fail: "-setsecurewebproxy Wi-Fi"}
	p := &ProxyManager{goos: "darwin", run: rec.run}
	err := p.Enable("127.0.0.1:10809")
	if err == nil || !strings.Contains(err.Error(), "-setsecurewebproxy Wi-Fi") {
		t.Fatalf("enable err=%v, want failing command", err)
	}
	if !rec.has("networksetup -setwebproxy Ethernet 127.0.0.1 10809") {
		t.Fatalf("remaining services skipped: %v", rec.calls)
	}

	rec = &recorder{output: services, fail: "-setwebproxystate"}
	p = &ProxyManager{goos: "darwin", run: rec.run}
	if err := p.Disable(); err == nil {
		t.Fatalf("disable succeeded with every command failing")
	}
	if !rec.has("networksetup -setsecurewebproxystate Ethernet off") {
		t.Fatalf("disable stopped early: %v", rec.calls)
	}
}

func TestProxyManager_InvalidAddress(t *testing.T) {
	p := &ProxyManager{goos: "linux", run: (&recorder{}).run}
	if err := p.Enable("10809"); err == nil {
		t.Fatalf("expected error for address without host")
	}
}

func TestAutoStart_EntryFiles(t *testing.T) {
	cases := []struct {
		goos string
		file string
		want []string
	}{
		{"linux", filepath.Join(".config", "autostart", "BabyVPN.desktop"), []string{"Name=BabyVPN", `Exec="/opt/babyvpn/BabyVPN" -autostart`}},
		{"darwin", filepath.Join("Library", "LaunchAgents", "com.babyvpn.client.plist"), []string{"<string>com.babyvpn.client</string>", "<string>-autostart</string>"}},
	}
	for _, tc := range cases {
		t.Run(tc.goos, func(t *testing.T) {
			home := t.TempDir()
			m := &AutoStartManager{appName: "BabyVPN", exePath: "/opt/babyvpn/BabyVPN", goos: tc.goos, home: home}

			if m.IsEnabled() {
				t.Fatalf("enabled before Enable")
			}
			if err := m.SetEnabled(true); err != nil {
				t.Fatalf("enable: %v", err)
			}
			data, err := os.ReadFile(filepath.Join(home, tc.file))
			if err != nil {
				t.Fatalf("read entry: %v", err)
			}
			for _, w := range tc.want {
				if !strings.Contains(string(data), w) {
					t.Fatalf("entry missing %q:\n%s", w, data)
				}
			}
			if !m.IsEnabled() {
				t.Fatalf("not enabled after Enable")
			}

			// 程序移动后旧的自启项视为未启用
			moved := *m
			moved.exePath = "/usr/local/bin/BabyVPN"
			if moved.IsEnabled() {
				t.Fatalf("stale entry reported as enabled")
			}

			if err := m.SetEnabled(false); err != nil {
				t.Fatalf("disable: %v", err)
			}
			if err := m.Disable(); err != nil {
				t.Fatalf("second disable: %v", err)
			}
			if m.IsEnabled() {
				t.Fatalf("enabled after Disable")
			}
		})
	}
}

func TestAutoStart_Unsupported(t *testing.T) {
	m := &AutoStartManager{appName: "BabyVPN", exePath: "x", goos: "plan9", home: t.TempDir()}
	if err := m.Enable(); err == nil {
		t.Fatalf("expected error on unsupported os")
	}
	if m.IsEnabled() {
		t.Fatalf("unsupported os reported enabled")
	}
}

func TestNotification_Commands(t *testing.T) {
	cases := []struct {
		goos string
		want string
	}{
		{"linux", `notify-send -a BabyVPN 已连接 HK "01"`},
		{"darwin", `osascript -e display notification "HK \"01\"" with title "已连接"`},
	}
	for _, tc := range cases {
		rec := &recorder{}
		n := &NotificationManager{appName: "BabyVPN", goos: tc.goos, run: rec.run}
		if err := n.Show("已连接", `HK "01"`); err != nil {
			t.Fatalf("%s: %v", tc.goos, err)
		}
		if len(rec.calls) != 1 || rec.calls[0] != tc.want {
			t.Fatalf("%s calls=%q, want=%q", tc.goos, rec.calls, tc.want)
		}
	}

	rec := &recorder{}
	n := &NotificationManager{appName: "BabyVPN", goos: "windows", run: rec.run}
	if err := n.Show("<t>", "a & b"); err != nil {
		t.Fatalf("windows: %v", err)
	}
	if !strings.HasPrefix(rec.calls[0], "powershell -NoProfile -WindowStyle Hidden -Command") ||
		!strings.Contains(rec.calls[0], "&lt;t&gt;") || !strings.Contains(rec.calls[0], "a &amp; b") {
		t.Fatalf("windows call=%q", rec.calls[0])
	}
}

func TestNotification_Throttle(t *testing.T) {
	rec := &recorder{}
	n := &NotificationManager{appName: "BabyVPN", goos: "linux", run: rec.run, MinInterval: time.Hour}

	n.Show("连接失败", "a")
	n.Show("连接失败", "b")
	n.Show("已断开", "c")
	if len(rec.calls) != 2 {
		t.Fatalf("calls=%d, want=2 (%q)", len(rec.calls), rec.calls)
	}

	n.Muted = true
	n.Show("新标题", "d")
	if len(rec.calls) != 2 {
		t.Fatalf("disabled manager sent notification")
	}
}

func TestBusyPorts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	got := BusyPorts(busy)
	if len(got) != 1 || got[0] != busy {
		t.Fatalf("BusyPorts=%v, want=[%d]", got, busy)
	}
}

func TestXMLEscape(t *testing.T) {
	if got := xmlEscape(`<a & "b">`); got != "&lt;a &amp; &quot;b&quot;&gt;" {
		t.Fatalf("xmlEscape=%q", got)
	}
}
