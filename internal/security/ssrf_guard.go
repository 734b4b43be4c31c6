// Package security はフィード取得時のSSRF防止と記事本文のサニタイズを提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeURL はSSRF検証で拒否されたURLを表す。
var ErrUnsafeURL = errors.New("安全でないURL")

// SSRFGuardService はSSRF防止機能のインターフェース。
// フィード購読時の事前検証とフェッチ時のHTTPクライアント生成に使用される。
type SSRFGuardService interface {
	// NewSafeClient はDNS解決後のIPアドレスを接続時に検証するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error
}

// DefaultAllowedPorts はフィード取得で許可するポート。
var DefaultAllowedPorts = []int{80, 443}

var allowedSchemes = []string{"http", "https"}

var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

// blockedNetworks はパッケージ初期化時に1回だけパースする。
var blockedNetworks []*net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータ (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		// キャリアグレードNAT
		"100.64.0.0/10",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("blockedNetworksのCIDRが不正: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, network)
	}
}

// SSRFGuard はSSRFGuardServiceの実装。
type SSRFGuard struct {
	allowedPorts []int
}

// GuardOption はSSRFGuardの設定を変更する。
type GuardOption func(*SSRFGuard)

// WithAllowedPorts は許可するポートを置き換える。空の場合は既定値のまま。
func WithAllowedPorts(ports ...int) GuardOption {
	return func(g *SSRFGuard) {
		if len(ports) > 0 {
			g.allowedPorts = slices.Clone(ports)
		}
	}
}

// NewSSRFGuard はSSRFGuardを生成する。
func NewSSRFGuard(opts ...GuardOption) *SSRFGuard {
	g := &SSRFGuard{allowedPorts: slices.Clone(DefaultAllowedPorts)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AllowedPorts は許可ポートのコピーを返す。
func (g *SSRFGuard) AllowedPorts() []int {
	return slices.Clone(g.allowedPorts)
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを生成する。
// プライベートIP、ループバック、リンクローカルへの接続はDialerのControlフックで拒否されるため、
// DNS再バインディングにも対応する。
// レスポンスサイズの上限は呼び出し側でio.LimitReaderにより適用する。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.allowedPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はスキーム、ホスト、ポート、IPアドレスを検証する。
// 拒否した場合のエラーはErrUnsafeURLをラップする。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: URLが空", ErrUnsafeURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: URLの解析に失敗: %v", ErrUnsafeURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(allowedSchemes, scheme) {
		return fmt.Errorf("%w: 許可されていないスキーム: %q", ErrUnsafeURL, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: ホストが空: %s", ErrUnsafeURL, rawURL)
	}

	if portStr := parsed.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || !slices.Contains(g.allowedPorts, port) {
			return fmt.Errorf("%w: 許可されていないポート: %s", ErrUnsafeURL, portStr)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: ブロック対象のIPアドレス: %s", ErrUnsafeURL, ip.String())
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("%w: ブロック対象のホスト: %s", ErrUnsafeURL, host)
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isBlockedHostname は末尾のドットを無視し、*.localhost もブロックする。
func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	if strings.HasSuffix(lower, ".localhost") {
		return true
	}
	return slices.Contains(blockedHostnames, lower)
}
