package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// LoadAndWatch 约定：config/{service}.yaml，文件变更后热更新到 out，可选回调
func LoadAndWatch(service string, out interface{}, onChange ...func()) (*viper.Viper, error) {
	v, err := LoadFrom(service, out, "./config", ".")
	if err != nil {
		return nil, err
	}

	// 监听文件变更，热更新到 out
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[%s] config file changed: %s", service, e.Name)

		if err := v.Unmarshal(out); err != nil {
			log.Printf("[%s] reload config error: %v", service, err)
			return
		}
		for _, fn := range onChange {
			fn()
		}
		log.Printf("[%s] config reloaded OK", service)
	})

	return v, nil
}

// LoadFrom 只加载不监听，paths 按顺序查找
func LoadFrom(service string, out interface{}, paths ...string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// 环境变量覆盖，例如：
	//   SETTLEMENT_SERVICE_HTTP_ADDR 覆盖 http.addr
	//   SETTLEMENT_SERVICE_GATEWAYS_BASEPAY_SECRET 覆盖 gateways.basepay.secret
	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(service, "-", "_")))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())
	return v, nil
}
