package platform

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

// HTTPProxyDialer implements proxy.Dialer for HTTP CONNECT proxies, which
// golang.org/x/net/proxy does not support out of the box (it only knows
// SOCKS5 and direct), needed to route bot traffic through per-account
// HTTP proxies.
type HTTPProxyDialer struct {
	proxyURL *url.URL
	forward  proxy.Dialer
	timeout  time.Duration
}

func (d *HTTPProxyDialer) Dial(network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.timeout, KeepAlive: 30 * time.Second}

	conn, err := dialer.Dial("tcp", d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("connect to HTTP proxy: %w", err)
	}

	connectReq := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", addr, addr)
	if d.proxyURL.User != nil {
		username := d.proxyURL.User.Username()
		password, _ := d.proxyURL.User.Password()
		auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		connectReq += "Proxy-Authorization: Basic " + auth + "\r\n"
	}
	connectReq += "\r\n"

	if _, err := conn.Write([]byte(connectReq)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write CONNECT request: %w", err)
	}

	buf := make([]byte, 1024)
	conn.SetReadDeadline(time.Now().Add(d.timeout))
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	response := string(buf[:n])
	if !strings.Contains(response, "HTTP/1.1 200") && !strings.Contains(response, "HTTP/1.0 200") {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", strings.TrimSpace(response))
	}

	if headerEnd := strings.Index(response, "\r\n\r\n"); headerEnd > 0 && headerEnd+4 < n {
		conn = &preReadConn{Conn: conn, preRead: buf[headerEnd+4 : n]}
	}
	return conn, nil
}

// preReadConn replays bytes the CONNECT handshake read past the header
// terminator before handing the connection to the caller.
type preReadConn struct {
	net.Conn
	preRead     []byte
	preReadDone bool
}

func (c *preReadConn) Read(b []byte) (int, error) {
	if !c.preReadDone && len(c.preRead) > 0 {
		n := copy(b, c.preRead)
		if n >= len(c.preRead) {
			c.preReadDone = true
		} else {
			c.preRead = c.preRead[n:]
		}
		return n, nil
	}
	return c.Conn.Read(b)
}

func newHTTPProxyDialer(proxyURL *url.URL, forward proxy.Dialer) proxy.Dialer {
	return &HTTPProxyDialer{proxyURL: proxyURL, forward: forward, timeout: 30 * time.Second}
}

// proxyPool caches one dialer per account so a rotating-session proxy
// string keeps the same upstream session for the account's lifetime.
type proxyPool struct {
	mu    sync.RWMutex
	cache map[string]proxy.Dialer
	log   *zap.Logger
}

func newProxyPool(log *zap.Logger) *proxyPool {
	return &proxyPool{cache: make(map[string]proxy.Dialer), log: log}
}

// Dialer returns the proxy dialer for an account, building and caching it
// on first use. template may contain a "[session]" placeholder that is
// replaced with "<account><index>" so a proxy provider's per-session
// rotation keeps one upstream IP per bot, since configuration carries one
// proxy endpoint per bot account.
func (p *proxyPool) Dialer(account string, index int, template string) (proxy.Dialer, error) {
	if template == "" {
		return nil, nil
	}

	p.mu.RLock()
	if d, ok := p.cache[account]; ok {
		p.mu.RUnlock()
		return d, nil
	}
	p.mu.RUnlock()

	session := fmt.Sprintf("%s%d", account, index)
	raw := strings.ReplaceAll(template, "[session]", session)

	proxyURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	var dialer proxy.Dialer
	switch proxyURL.Scheme {
	case "socks5":
		auth := &proxy.Auth{}
		if proxyURL.User != nil {
			auth.User = proxyURL.User.Username()
			auth.Password, _ = proxyURL.User.Password()
		}
		if auth.User == "" {
			auth = nil
		}
		dialer, err = proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
	case "http", "https":
		dialer = newHTTPProxyDialer(proxyURL, proxy.Direct)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}

	if p.log != nil {
		p.log.Debug("built proxy dialer", zap.String("account", account), zap.String("scheme", proxyURL.Scheme))
	}

	p.mu.Lock()
	p.cache[account] = dialer
	p.mu.Unlock()
	return dialer, nil
}

func (p *proxyPool) Forget(account string) {
	p.mu.Lock()
	delete(p.cache, account)
	p.mu.Unlock()
}
