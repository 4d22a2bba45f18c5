//go:build windows
// +build windows

package config

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// ProtectionAvailable 当前平台是否支持 DPAPI
func ProtectionAvailable() bool { return true }

type cryptFunc func(in *windows.DataBlob, name *uint16, entropy *windows.DataBlob, reserved uintptr, prompt *windows.CryptProtectPromptStruct, flags uint32, out *windows.DataBlob) error

// EncryptDPAPI 加密，结果只能由当前用户解密
func EncryptDPAPI(data []byte) ([]byte, error) {
	out, err := dpapi(windows.CryptProtectData, data)
	if err != nil {
		return nil, fmt.Errorf("DPAPI加密失败: %w", err)
	}
	return out, nil
}

// DecryptDPAPI 解密 EncryptDPAPI 的结果
func DecryptDPAPI(data []byte) ([]byte, error) {
	unprotect := func(in *windows.DataBlob, _ *uint16, entropy *windows.DataBlob, reserved uintptr, prompt *windows.CryptProtectPromptStruct, flags uint32, out *windows.DataBlob) error {
		return windows.CryptUnprotectData(in, nil, entropy, reserved, prompt, flags, out)
	}
	out, err := dpapi(unprotect, data)
	if err != nil {
		return nil, fmt.Errorf("DPAPI解密失败: %w", err)
	}
	return out, nil
}

func dpapi(call cryptFunc, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("数据为空")
	}

	in := windows.DataBlob{Size: uint32(len(data)), Data: &data[0]}
	var out windows.DataBlob
	if err := call(&in, nil, nil, 0, nil, windows.CRYPTPROTECT_UI_FORBIDDEN, &out); err != nil {
		return nil, err
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(out.Data)))

	return append([]byte(nil), unsafe.Slice(out.Data, out.Size)...), nil
}
