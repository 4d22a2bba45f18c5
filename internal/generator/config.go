package generator

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Xray 配置结构（字段名必须与内核一致）
// =============================================================================

// EngineConfig 完整的内核配置文档，生成后不再修改
type EngineConfig struct {
	Log       LogObject        `json:"log"`
	Inbounds  []InboundObject  `json:"inbounds"`
	Outbounds []OutboundObject `json:"outbounds"`
	DNS       DNSObject        `json:"dns"`
	Routing   RoutingObject    `json:"routing"`
}

type LogObject struct {
	LogLevel string `json:"loglevel"`
}

type InboundObject struct {
	Listen   string          `json:"listen,omitempty"`
	Port     int             `json:"port"`
	Protocol string          `json:"protocol"`
	Settings InboundSettings `json:"settings"`
	Sniffing SniffingObject  `json:"sniffing"`
	Tag      string          `json:"tag"`
}

type InboundSettings struct {
	Auth string `json:"auth,omitempty"`
	UDP  bool   `json:"udp,omitempty"`
}

type SniffingObject struct {
	Enabled      bool     `json:"enabled"`
	DestOverride []string `json:"destOverride"`
}

type OutboundObject struct {
	Protocol       string           `json:"protocol"`
	Tag            string           `json:"tag,omitempty"`
	Settings       OutboundSettings `json:"settings"`
	StreamSettings *StreamSettings  `json:"streamSettings,omitempty"`
	Mux            *MuxObject       `json:"mux,omitempty"`
}

// OutboundSettings vmess/vless 用 vnext，trojan 用 servers，freedom 为空对象
type OutboundSettings struct {
	Vnext   []VnextServer  `json:"vnext,omitempty"`
	Servers []TrojanServer `json:"servers,omitempty"`
}

type VnextServer struct {
	Address string       `json:"address"`
	Port    int          `json:"port"`
	Users   []UserObject `json:"users"`
}

type UserObject struct {
	ID         string `json:"id"`
	AlterID    *int   `json:"alterId,omitempty"`
	Security   string `json:"security,omitempty"`
	Encryption string `json:"encryption,omitempty"`
	Level      int    `json:"level"`
}

type TrojanServer struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	Level    int    `json:"level"`
}

type MuxObject struct {
	Enabled     bool `json:"enabled"`
	Concurrency int  `json:"concurrency"`
}

type StreamSettings struct {
	Network             string             `json:"network"`
	Security            string             `json:"security"`
	TLSSettings         *TLSObject         `json:"tlsSettings,omitempty"`
	WSSettings          *WSObject          `json:"wsSettings,omitempty"`
	XHTTPSettings       *XHTTPObject       `json:"xhttpSettings,omitempty"`
	GRPCSettings        *GRPCObject        `json:"grpcSettings,omitempty"`
	TCPSettings         *TCPObject         `json:"tcpSettings,omitempty"`
	KCPSettings         *KCPObject         `json:"kcpSettings,omitempty"`
	HTTPSettings        *HTTPObject        `json:"httpSettings,omitempty"`
	QUICSettings        *QUICObject        `json:"quicSettings,omitempty"`
	HTTPUpgradeSettings *HTTPUpgradeObject `json:"httpupgradeSettings,omitempty"`
}

type TLSObject struct {
	ServerName    string   `json:"serverName"`
	AllowInsecure bool     `json:"allowInsecure"`
	ALPN          []string `json:"alpn,omitempty"`
	Fingerprint   string   `json:"fingerprint,omitempty"`
}

type WSObject struct {
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
}

type XHTTPObject struct {
	Mode string `json:"mode,omitempty"`
	Path string `json:"path"`
	Host string `json:"host"`
}

type GRPCObject struct {
	ServiceName string `json:"serviceName"`
}

type HeaderObject struct {
	Type    string         `json:"type"`
	Request *HeaderRequest `json:"request,omitempty"`
}

type HeaderRequest struct {
	Headers map[string][]string `json:"headers"`
}

type TCPObject struct {
	Header HeaderObject `json:"header"`
}

type KCPObject struct {
	Header HeaderObject `json:"header"`
	Seed   string       `json:"seed"`
}

type HTTPObject struct {
	Path string   `json:"path"`
	Host []string `json:"host"`
}

type QUICObject struct {
	Security string       `json:"security"`
	Key      string       `json:"key"`
	Header   HeaderObject `json:"header"`
}

type HTTPUpgradeObject struct {
	Path string `json:"path"`
	Host string `json:"host"`
}

type DNSObject struct {
	Servers []string `json:"servers"`
}

type RoutingObject struct {
	DomainStrategy string        `json:"domainStrategy"`
	Rules          []RoutingRule `json:"rules"`
}

type RoutingRule struct {
	Type        string   `json:"type"`
	OutboundTag string   `json:"outboundTag"`
	IP          []string `json:"ip,omitempty"`
}

// Marshal 序列化为内核可读取的 JSON
func (c *EngineConfig) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化配置失败: %w", err)
	}
	return data, nil
}

// Primary 主出站
func (c *EngineConfig) Primary() *OutboundObject {
	if len(c.Outbounds) == 0 {
		return nil
	}
	return &c.Outbounds[0]
}
