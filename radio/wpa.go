package radio

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/telenode/log2"
)

const (
	DefaultWPAInterface   = "wlan0"
	defaultConnectTimeout = 20 * time.Second
	defaultScanWait       = 3 * time.Second
	wpaPollInterval       = 500 * time.Millisecond
)

// RunFunc executes wpa_cli with args and returns its stdout.
type RunFunc func(ctx context.Context, args ...string) (string, error)

// WPA drives a running wpa_supplicant through wpa_cli.
type WPA struct {
	mu        sync.Mutex
	iface     string
	log       *log2.Log
	run       RunFunc
	creds     Credentials
	networkID string
	stale     bool // networkID was added with previous credentials

	ConnectTimeout time.Duration
	ScanWait       time.Duration
}

func NewWPA(iface string, log *log2.Log) *WPA {
	if iface == "" {
		iface = DefaultWPAInterface
	}
	w := &WPA{
		iface:          iface,
		log:            log,
		ConnectTimeout: defaultConnectTimeout,
		ScanWait:       defaultScanWait,
	}
	w.run = w.execCli
	return w
}

func (w *WPA) SetRunFunc(f RunFunc) { w.run = f }

func (w *WPA) execCli(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-i", w.iface}, args...)
	out, err := exec.CommandContext(ctx, "wpa_cli", full...).Output()
	if err != nil {
		return "", errors.Annotatef(err, "wpa_cli %s", strings.Join(args, " "))
	}
	return string(out), nil
}

func (w *WPA) cli(ctx context.Context, args ...string) (string, error) {
	out, err := w.run(ctx, args...)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "FAIL" || strings.HasPrefix(out, "FAIL-") {
		return "", errors.Errorf("wpa_cli %s: %s", strings.Join(args, " "), out)
	}
	w.log.Debugf("wpa_cli %s -> %q", strings.Join(args, " "), out)
	return out, nil
}

func (w *WPA) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.networkID == "" || w.stale {
		return false
	}
	out, err := w.cli(context.Background(), "ping")
	return err == nil && out == "PONG"
}

func (w *WPA) Configure(c Credentials) error {
	if c.SSID == "" {
		return errors.NotValidf("radio ssid empty")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.creds = c
	w.stale = true
	return nil
}

// Start registers configured network with supplicant.
// Network left from previous attempt is removed first.
func (w *WPA) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.creds.SSID == "" {
		return ErrNotConfigured
	}
	if _, err := w.cli(ctx, "ping"); err != nil {
		return errors.Annotate(err, "wpa_supplicant not running")
	}
	if w.networkID != "" {
		w.removeNetwork(ctx, w.networkID)
		w.networkID = ""
	}
	id, err := w.cli(ctx, "add_network")
	if err != nil {
		return err
	}
	if _, err = strconv.Atoi(id); err != nil {
		return errors.Errorf("wpa_cli add_network unexpected output=%q", id)
	}
	if err = w.setNetwork(ctx, id); err != nil {
		w.removeNetwork(ctx, id)
		return err
	}
	w.networkID = id
	w.stale = false
	return nil
}

func (w *WPA) setNetwork(ctx context.Context, id string) error {
	if _, err := w.cli(ctx, "set_network", id, "ssid", quote(w.creds.SSID)); err != nil {
		return err
	}
	var err error
	if w.creds.Password == "" {
		_, err = w.cli(ctx, "set_network", id, "key_mgmt", "NONE")
	} else {
		_, err = w.cli(ctx, "set_network", id, "psk", quote(w.creds.Password))
	}
	return err
}

func (w *WPA) removeNetwork(ctx context.Context, id string) {
	if _, err := w.cli(ctx, "remove_network", id); err != nil {
		w.log.Errorf("wpa remove_network id=%s: %v", id, err)
	}
}

func (w *WPA) Connect(ctx context.Context) error {
	w.mu.Lock()
	id, stale := w.networkID, w.stale
	w.mu.Unlock()
	if id == "" || stale {
		return ErrNotStarted
	}
	if _, err := w.cli(ctx, "select_network", id); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, w.ConnectTimeout)
	defer cancel()
	for {
		if st, err := w.state(ctx); err == nil && st == "COMPLETED" {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Timeoutf("association ssid=%s", w.creds.SSID)
		case <-time.After(wpaPollInterval):
		}
	}
}

func (w *WPA) Connected() bool {
	st, err := w.state(context.Background())
	return err == nil && st == "COMPLETED"
}

func (w *WPA) state(ctx context.Context) (string, error) {
	out, err := w.cli(ctx, "status")
	if err != nil {
		return "", err
	}
	return parseStatus(out)["wpa_state"], nil
}

func (w *WPA) Scan(ctx context.Context, max int) ([]AccessPoint, error) {
	if _, err := w.cli(ctx, "scan"); err != nil {
		// FAIL-BUSY: scan in progress, results still useful
		w.log.Debugf("wpa scan request err=%v", err)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(w.ScanWait):
	}
	out, err := w.cli(ctx, "scan_results")
	if err != nil {
		return nil, err
	}
	aps, err := parseScanResults(out)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	ssid := w.creds.SSID
	w.mu.Unlock()
	return Rank(aps, ssid, max), nil
}

func quote(s string) string { return strconv.Quote(s) }

func parseStatus(out string) map[string]string {
	m := make(map[string]string)
	scan := bufio.NewScanner(strings.NewReader(out))
	for scan.Scan() {
		line := scan.Text()
		if i := strings.IndexByte(line, '='); i > 0 {
			m[line[:i]] = line[i+1:]
		}
	}
	return m
}

// bssid / frequency / signal level / flags / ssid
func parseScanResults(out string) ([]AccessPoint, error) {
	var result []AccessPoint
	scan := bufio.NewScanner(strings.NewReader(out))
	for scan.Scan() {
		line := scan.Text()
		if strings.HasPrefix(line, "bssid") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 5)
		if len(fields) < 4 {
			return nil, errors.Errorf("scan_results unexpected line=%q", line)
		}
		freq, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Annotatef(err, "scan_results frequency line=%q", line)
		}
		signal, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Annotatef(err, "scan_results signal line=%q", line)
		}
		ap := AccessPoint{BSSID: fields[0], Signal: signal, Channel: FrequencyChannel(freq)}
		if len(fields) == 5 {
			ap.SSID = fields[4]
		}
		result = append(result, ap)
	}
	return result, scan.Err()
}

func (w *WPA) String() string { return fmt.Sprintf("wpa_supplicant(%s)", w.iface) }
