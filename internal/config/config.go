// Package config загружает настройки клиента.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
package config

import (
	"bufio"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orbit-chat/orbit-client/internal/logger"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		if idx := strings.LastIndex(parent, "/"); idx <= 0 {
			return
		} else {
			dir = parent[:idx]
			if dir == "" {
				dir = "/"
			}
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// IceServer — настройки STUN/TURN для WebRTC (формат совместим с RTCIceServer).
type IceServer struct {
	URLs           []string `yaml:"urls" json:"urls"`
	Username       string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential     string   `yaml:"credential,omitempty" json:"credential,omitempty"`
	CredentialType string   `yaml:"credential_type,omitempty" json:"credential_type,omitempty"`
}

// Config содержит настройки клиента: адреса сервисов, тайминги соединения,
// окна набора текста, ICE-серверы и локальный кеш предпочтений.
type Config struct {
	// EventURL — ws(s):// адрес событийного канала.
	EventURL string `yaml:"event_url"`
	// AuthServiceURL — базовый URL сервиса авторизации (обновление сессии).
	AuthServiceURL string `yaml:"auth_service_url"`
	// UploadServiceURL — базовый URL подписи загрузок файлов.
	UploadServiceURL string `yaml:"upload_service_url"`

	// Соединение
	WriteTimeout   time.Duration `yaml:"-"`
	PongTimeout    time.Duration `yaml:"-"`
	MaxMessageSize int64         `yaml:"-"`
	SendBufferSize int           `yaml:"ws_send_buffer_size"`

	// Набор текста
	TypingTimeout   time.Duration `yaml:"-"`
	TypingStopGrace time.Duration `yaml:"-"`
	// TypingThrottle — минимальный интервал между исходящими typing-сигналами.
	TypingThrottle time.Duration `yaml:"-"`

	// Звонки (WebRTC)
	CallICEServers []IceServer `yaml:"call_ice_servers"`

	// Кеш предпочтений: redis URL; пусто — кеш в памяти процесса.
	PrefsRedisURL string `yaml:"prefs_redis_url"`

	LogLevel string `yaml:"log_level"`
}

type yamlConfig struct {
	EventURL         string      `yaml:"event_url"`
	AuthServiceURL   string      `yaml:"auth_service_url"`
	UploadServiceURL string      `yaml:"upload_service_url"`
	WriteTimeout     int         `yaml:"ws_write_timeout"`
	PongTimeout      int         `yaml:"ws_pong_timeout"`
	MaxMessageSize   int         `yaml:"ws_max_message_size"`
	SendBufferSize   int         `yaml:"ws_send_buffer_size"`
	TypingTimeoutSec int         `yaml:"typing_timeout"`
	TypingStopGrace  int         `yaml:"typing_stop_grace_ms"`
	TypingThrottle   int         `yaml:"typing_throttle_ms"`
	CallICEServers   []IceServer `yaml:"call_ice_servers"`
	PrefsRedisURL    string      `yaml:"prefs_redis_url"`
	LogLevel         string      `yaml:"log_level"`
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем YAML и env (env имеет приоритет).
func Load() *Config {
	loadEnv()
	// Значения по умолчанию
	yc := yamlConfig{
		EventURL:         "ws://localhost:8080/ws",
		AuthServiceURL:   "http://localhost:8081",
		WriteTimeout:     10,
		PongTimeout:      60,
		MaxMessageSize:   65536,
		SendBufferSize:   256,
		TypingTimeoutSec: 8,
		TypingStopGrace:  1200,
		TypingThrottle:   2000,
		LogLevel:         "info",
	}

	paths := []string{os.Getenv("CONFIG_PATH"), "config/client.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}

	// Переменные окружения имеют наивысший приоритет
	callIceServers := yc.CallICEServers
	if raw := os.Getenv("CALL_ICE_SERVERS"); raw != "" {
		var parsed []IceServer
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			logger.Errorf("config: invalid CALL_ICE_SERVERS json: %v", err)
		} else {
			callIceServers = parsed
		}
	}
	if len(callIceServers) == 0 {
		callIceServers = []IceServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}

	cfg := &Config{
		EventURL:         envStr("EVENT_URL", yc.EventURL),
		AuthServiceURL:   envStr("AUTH_SERVICE_URL", yc.AuthServiceURL),
		UploadServiceURL: envStr("UPLOAD_SERVICE_URL", yc.UploadServiceURL),
		WriteTimeout:     time.Duration(envInt("WS_WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		PongTimeout:      time.Duration(envInt("WS_PONG_TIMEOUT", yc.PongTimeout)) * time.Second,
		MaxMessageSize:   int64(envInt("WS_MAX_MESSAGE_SIZE", yc.MaxMessageSize)),
		SendBufferSize:   envInt("WS_SEND_BUFFER_SIZE", yc.SendBufferSize),
		TypingTimeout:    time.Duration(envInt("TYPING_TIMEOUT", yc.TypingTimeoutSec)) * time.Second,
		TypingStopGrace:  time.Duration(envInt("TYPING_STOP_GRACE_MS", yc.TypingStopGrace)) * time.Millisecond,
		TypingThrottle:   time.Duration(envInt("TYPING_THROTTLE_MS", yc.TypingThrottle)) * time.Millisecond,
		CallICEServers:   callIceServers,
		PrefsRedisURL:    envStr("PREFS_REDIS_URL", yc.PrefsRedisURL),
		LogLevel:         envStr("LOG_LEVEL", yc.LogLevel),
	}

	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if cfg.TypingStopGrace >= cfg.TypingTimeout {
		logger.Errorf("config: typing_stop_grace_ms >= typing_timeout, использую значения по умолчанию")
		cfg.TypingTimeout = 8 * time.Second
		cfg.TypingStopGrace = 1200 * time.Millisecond
	}

	return cfg
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
