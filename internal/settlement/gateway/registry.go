package gateway

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
)

// Config 单个网关的密钥和来源 IP 白名单
type Config struct {
	Secret           string   `mapstructure:"secret" yaml:"secret"`
	AllowedIPs       []string `mapstructure:"allowed_ips" yaml:"allowed_ips"`
	EnforceAllowlist bool     `mapstructure:"enforce_allowlist" yaml:"enforce_allowlist"`
}

type Entry struct {
	Adapter Adapter
	Secret  string
	Enforce bool

	prefixes []netip.Prefix
}

// IPAllowed 白名单为空视为放行；条目可以是单个 IP 或 CIDR
func (e *Entry) IPAllowed(ip string) bool {
	if len(e.prefixes) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range e.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

type Registry struct {
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register 没配密钥的网关拒绝注册，避免空密钥验签
func (r *Registry) Register(a Adapter, c Config) error {
	if c.Secret == "" {
		return fmt.Errorf("gateway %s: empty secret", a.Name())
	}
	e := &Entry{Adapter: a, Secret: c.Secret, Enforce: c.EnforceAllowlist}
	for _, s := range c.AllowedIPs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return fmt.Errorf("gateway %s: allowed_ips %q: %w", a.Name(), s, err)
			}
			e.prefixes = append(e.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return fmt.Errorf("gateway %s: allowed_ips %q: %w", a.Name(), s, err)
		}
		addr = addr.Unmap()
		e.prefixes = append(e.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	r.entries[a.Name()] = e
	return nil
}

func (r *Registry) Get(name string) (*Entry, bool) {
	e, ok := r.entries[strings.ToLower(name)]
	return e, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.entries))
	for n := range r.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Builtin 已知网关适配器
func Builtin() map[string]Adapter {
	return map[string]Adapter{
		Basepay: NewBasepay(),
		Nekpay:  NewNekpay(),
		Stripe:  NewStripe(),
	}
}

// NewRegistryFromConfig 按配置注册；配置里出现未知网关名直接报错
func NewRegistryFromConfig(cfg map[string]Config) (*Registry, error) {
	r := NewRegistry()
	known := Builtin()
	for name, c := range cfg {
		a, ok := known[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown gateway %q", name)
		}
		if err := r.Register(a, c); err != nil {
			return nil, err
		}
	}
	return r, nil
}
