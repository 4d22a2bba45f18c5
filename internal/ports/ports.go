// Package ports 为同时运行的内核实例分配互不冲突的本地端口
package ports

import (
	"fmt"
	"net"
	"strconv"
)

const maxPort = 65535

// Pair 一个内核实例的 SOCKS / HTTP 监听端口
type Pair struct {
	Socks int `json:"socks"`
	HTTP  int `json:"http"`
}

var (
	// Main 主隧道固定端口
	Main = Pair{Socks: 10808, HTTP: 10809}
	// ProbeBase 测速实例的起始端口，与 Main 不相交
	ProbeBase = Pair{Socks: 20808, HTTP: 20809}
)

// For 由偏移量推出端口：base + 2*offset。
// 同时存活的实例必须使用不同的 offset。
func For(base Pair, offset int) Pair {
	return Pair{
		Socks: base.Socks + 2*offset,
		HTTP:  base.HTTP + 2*offset,
	}
}

// MaxOffset 两个端口都不超过 65535 的最大偏移量
func MaxOffset(base Pair) int {
	hi := base.Socks
	if base.HTTP > hi {
		hi = base.HTTP
	}
	if hi > maxPort {
		return -1
	}
	return (maxPort - hi) / 2
}

// Valid 端口是否都在合法范围内
func (p Pair) Valid() bool {
	return p.Socks > 0 && p.Socks <= maxPort && p.HTTP > 0 && p.HTTP <= maxPort && p.Socks != p.HTTP
}

func (p Pair) SocksAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(p.Socks))
}

func (p Pair) HTTPAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(p.HTTP))
}

func (p Pair) String() string {
	return fmt.Sprintf("socks=%d http=%d", p.Socks, p.HTTP)
}

// Overlaps 两组端口是否有任一重合
func (p Pair) Overlaps(o Pair) bool {
	return p.Socks == o.Socks || p.Socks == o.HTTP || p.HTTP == o.Socks || p.HTTP == o.HTTP
}
