package app

import (
	"sync"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/connexa/waconnect/internal/domain"
)

const configCacheTTL = 30 * time.Second

type cachedValue struct {
	value   string
	fetched time.Time
}

// ConfigManager reads runtime settings from the sys_config table with a
// short-lived cache, so operators can tune behavior without a restart.
type ConfigManager struct {
	app   *Application
	mu    sync.RWMutex
	cache map[string]cachedValue
}

func NewConfigManager(app *Application) *ConfigManager {
	return &ConfigManager{app: app, cache: make(map[string]cachedValue)}
}

func (m *ConfigManager) lookup(category, name string) string {
	key := category + "." + name
	m.mu.RLock()
	cv, ok := m.cache[key]
	m.mu.RUnlock()
	if ok && time.Since(cv.fetched) < configCacheTTL {
		return cv.value
	}

	var cfg domain.SysConfig
	err := m.app.DB().Where("type = ? and name = ?", category, name).First(&cfg).Error
	if err != nil {
		zap.L().Debug("config value missing",
			zap.String("category", category), zap.String("name", name))
		return ""
	}

	m.mu.Lock()
	m.cache[key] = cachedValue{value: cfg.Value, fetched: time.Now()}
	m.mu.Unlock()
	return cfg.Value
}

func (m *ConfigManager) GetString(category, name string) string {
	return m.lookup(category, name)
}

func (m *ConfigManager) GetInt(category, name string) int {
	return cast.ToInt(m.lookup(category, name))
}

func (m *ConfigManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(m.lookup(category, name))
}

func (m *ConfigManager) GetBool(category, name string) bool {
	return cast.ToBool(m.lookup(category, name))
}

// SetValue writes a setting and drops the cached copy.
func (m *ConfigManager) SetValue(category, name, value string) error {
	err := m.app.DB().Model(&domain.SysConfig{}).
		Where("type = ? and name = ?", category, name).
		Update("value", value).Error
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.cache, category+"."+name)
	m.mu.Unlock()
	return nil
}
