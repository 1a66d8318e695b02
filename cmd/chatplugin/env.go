package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// defaultEnvFile 未指定 --env-file 时从工作目录向上查找的文件名
const defaultEnvFile = ".env"

// loadDotEnv 在加载配置前把 .env 写入进程环境，已存在的变量不被覆盖。
// 显式指定的文件必须存在；默认文件找不到时静默跳过。
func loadDotEnv(path string) (string, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return "", fmt.Errorf("load env file %s: %w", path, err)
		}
		return path, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", nil
	}
	found := walkUpUntilFound(wd, defaultEnvFile)
	if found == "" {
		return "", nil
	}
	if err := godotenv.Load(found); err != nil {
		return "", fmt.Errorf("load env file %s: %w", found, err)
	}
	return found, nil
}

// walkUpUntilFound 从 folder 开始逐级向上查找 filename，找不到返回空串
func walkUpUntilFound(folder, filename string) string {
	candidate := filepath.Join(folder, filename)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ""
	}

	parent := filepath.Dir(folder)
	if parent == folder {
		return ""
	}
	return walkUpUntilFound(parent, filename)
}
