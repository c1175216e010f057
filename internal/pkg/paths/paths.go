package paths

import (
	"os"
	"path/filepath"
)

const appDir = "bizassist"

// GetDataDir 获取应用数据目录
func GetDataDir() string {
	userConfigDir, err := os.UserConfigDir()
	if err != nil || userConfigDir == "" {
		return filepath.Join(".", "data")
	}
	return filepath.Join(userConfigDir, appDir)
}

// Resolve 相对路径解析到数据目录下，绝对路径原样返回
func Resolve(dataDir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	if dataDir == "" {
		dataDir = GetDataDir()
	}
	return filepath.Join(dataDir, name)
}

// EnsureDir 确保目录存在并返回路径
func EnsureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
