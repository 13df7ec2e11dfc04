package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher 配置文件监控器
// 文件变化后重新加载并验证，可热更新的子集通过回调应用，
// 其余变更通过 updateChan 通知上层决定是否重启。
type ConfigWatcher struct {
	configPath  string
	watcher     *fsnotify.Watcher
	onReload    func(*Config)
	mu          sync.RWMutex
	isWatching  bool
	lastModTime time.Time
	updateChan  chan *Config
	errorChan   chan error
}

// NewConfigWatcher 创建配置监控器
// onReload 在每次成功加载后调用，用于应用可热更新的配置项（日志级别、时区等）。
func NewConfigWatcher(configPath string, onReload func(*Config)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %v", err)
	}

	configDir := filepath.Dir(configPath)
	if configDir == "" || configDir == "." {
		configDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("获取当前目录失败: %v", err)
		}
		configPath = filepath.Join(configDir, filepath.Base(configPath))
	}

	var lastModTime time.Time
	if info, err := os.Stat(configPath); err == nil {
		lastModTime = info.ModTime()
	}

	return &ConfigWatcher{
		configPath:  configPath,
		watcher:     watcher,
		onReload:    onReload,
		lastModTime: lastModTime,
		updateChan:  make(chan *Config, 1),
		errorChan:   make(chan error, 10),
	}, nil
}

// Start 开始监控配置文件
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.isWatching {
		return fmt.Errorf("配置监控器已经在运行")
	}

	// 监控目录而不是文件本身，编辑器原子替换文件时 inode 会变化
	configDir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(configDir); err != nil {
		return fmt.Errorf("添加监控目录失败: %v", err)
	}

	cw.isWatching = true
	go cw.watchLoop(ctx)

	return nil
}

// Stop 停止监控
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.isWatching {
		return nil
	}

	cw.isWatching = false
	return cw.watcher.Close()
}

// watchLoop 监控循环
func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Name == cw.configPath {
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					// 延迟处理，避免文件正在写入时读取
					time.Sleep(100 * time.Millisecond)
					cw.handleConfigChange()
				}
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case cw.errorChan <- err:
			default:
			}

		case <-ticker.C:
			// 定期检查修改时间（备用机制）
			cw.checkFileModTime()
		}
	}
}

// handleConfigChange 处理配置文件变化
func (cw *ConfigWatcher) handleConfigChange() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	info, err := os.Stat(cw.configPath)
	if err != nil {
		select {
		case cw.errorChan <- fmt.Errorf("获取文件信息失败: %v", err):
		default:
		}
		return
	}

	modTime := info.ModTime()
	if !modTime.After(cw.lastModTime) {
		return
	}
	cw.lastModTime = modTime

	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		select {
		case cw.errorChan <- fmt.Errorf("重新加载配置失败: %v", err):
		default:
		}
		return
	}

	if cw.onReload != nil {
		cw.onReload(newConfig)
	}

	select {
	case cw.updateChan <- newConfig:
	default:
	}
}

// checkFileModTime 检查文件修改时间（备用机制）
func (cw *ConfigWatcher) checkFileModTime() {
	cw.mu.RLock()
	lastModTime := cw.lastModTime
	cw.mu.RUnlock()

	info, err := os.Stat(cw.configPath)
	if err != nil {
		return
	}

	if info.ModTime().After(lastModTime) {
		cw.handleConfigChange()
	}
}

// GetUpdateChan 获取配置更新通道
func (cw *ConfigWatcher) GetUpdateChan() <-chan *Config {
	return cw.updateChan
}

// GetErrorChan 获取错误通道
func (cw *ConfigWatcher) GetErrorChan() <-chan error {
	return cw.errorChan
}
