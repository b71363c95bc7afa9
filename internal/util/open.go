package util

import (
	"os/exec"
	"runtime"
)

// OpenFile 用系统默认程序打开文件（输出工作簿）
func OpenFile(path string) error {
	return openCommand(runtime.GOOS, path).Start()
}

func openCommand(goos, path string) *exec.Cmd {
	switch goos {
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	case "darwin":
		return exec.Command("open", path)
	default:
		return exec.Command("xdg-open", path)
	}
}
