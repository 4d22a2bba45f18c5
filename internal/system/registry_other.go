//go:build !windows
// +build !windows

package system

import "errors"

var errNotWindows = errors.New("仅 Windows 可用")

func setWindowsProxy(server, bypass string) error { return errNotWindows }

func clearWindowsProxy() error { return errNotWindows }

func getWindowsProxy() (*ProxySettings, error) { return nil, errNotWindows }

func readRunValue(name string) (string, bool) { return "", false }

func writeRunValue(name, command string) error { return errNotWindows }

func deleteRunValue(name string) error { return errNotWindows }
