//go:build !windows
// +build !windows

package config

import "errors"

var errNoDPAPI = errors.New("加密保存仅支持 Windows")

// ProtectionAvailable 当前平台是否支持 DPAPI
func ProtectionAvailable() bool { return false }

func EncryptDPAPI([]byte) ([]byte, error) { return nil, errNoDPAPI }

func DecryptDPAPI([]byte) ([]byte, error) { return nil, errNoDPAPI }
