package core

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage engines
const (
	EnginePostgres = "postgres"
	EngineMongoDB  = "mongodb"
	EngineMemory   = "memory"
)

type (
	Config struct {
		AppName      string
		Env          string // DEV (local; default), TEST, QA, PROD
		Build        string
		Debug        bool
		TestMode     bool
		SecretKey    string
		RollbarToken string
		Server       ServerConfig
		Storage      StorageConfig
		Database     DatabaseConfig
		Mongo        MongoConfig
		Chat         ChatConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ReadTimeout               time.Duration
		WriteTimeout              time.Duration
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		AllowedOrigins            []string
		RateLimit                 float64 // requests per second per client IP; 0 disables
		RateBurst                 int
		TrustProxy                bool // take the client IP from X-Forwarded-For set by a private network proxy
	}

	StorageConfig struct {
		Engine string // postgres | mongodb | memory
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	MongoConfig struct {
		URI      string
		Database string
	}

	ChatConfig struct {
		HistoryLimit    int
		HistoryMaxLimit int
		SendRate        float64 // chat events per second per session
		SendBurst       int
		PushBuffer      int
		WriteWait       time.Duration
		PongWait        time.Duration
		PingPeriod      time.Duration
		MaxFrameSize    int64
		StorageTimeout  time.Duration
	}
)

func (db DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", db.Host, db.Port)
}

// NewConfig loads the app config from defaults, the optional `config/.env.<env>` file and the environment.
// Environment keys are prefixed by the current env, e.g. DEV_SERVER_ADDRESS, PROD_DATABASE_PASSWORD.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// app
	v.SetDefault("appName", "MPK School")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("rollbarToken", "")

	// server
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 5*time.Second)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 4*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.rateLimit", 100.0/60.0) // 100 requests per minute
	v.SetDefault("server.rateBurst", 20)
	v.SetDefault("server.trustProxy", false)

	// storage
	v.SetDefault("storage.engine", EngineMemory)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mpkschool")
	v.SetDefault("database.user", "mpkschool")
	v.SetDefault("database.password", "mpkschool")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "mpkschool")

	// chat
	v.SetDefault("chat.historyLimit", 50)
	v.SetDefault("chat.historyMaxLimit", 100)
	v.SetDefault("chat.sendRate", 5.0)
	v.SetDefault("chat.sendBurst", 10)
	v.SetDefault("chat.pushBuffer", 256)
	v.SetDefault("chat.writeWait", 10*time.Second)
	v.SetDefault("chat.pongWait", 60*time.Second)
	v.SetDefault("chat.pingPeriod", 54*time.Second) // must be less than pongWait
	v.SetDefault("chat.maxFrameSize", 16*1024)
	v.SetDefault("chat.storageTimeout", 10*time.Second)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetDefault("env", env)
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(ProjectRoot(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:      v.GetString("appName"),
		Env:          v.GetString("env"),
		Build:        v.GetString("build"),
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		SecretKey:    v.GetString("secretKey"),
		RollbarToken: v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debugHost"),
			ReadTimeout:               v.GetDuration("server.readTimeout"),
			WriteTimeout:              v.GetDuration("server.writeTimeout"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			AllowedOrigins:            v.GetStringSlice("server.allowedOrigins"),
			RateLimit:                 v.GetFloat64("server.rateLimit"),
			RateBurst:                 v.GetInt("server.rateBurst"),
			TrustProxy:                v.GetBool("server.trustProxy"),
		},
		Storage: StorageConfig{
			Engine: strings.ToLower(v.GetString("storage.engine")),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Mongo: MongoConfig{
			URI:      v.GetString("mongo.uri"),
			Database: v.GetString("mongo.database"),
		},
		Chat: ChatConfig{
			HistoryLimit:    v.GetInt("chat.historyLimit"),
			HistoryMaxLimit: v.GetInt("chat.historyMaxLimit"),
			SendRate:        v.GetFloat64("chat.sendRate"),
			SendBurst:       v.GetInt("chat.sendBurst"),
			PushBuffer:      v.GetInt("chat.pushBuffer"),
			WriteWait:       v.GetDuration("chat.writeWait"),
			PongWait:        v.GetDuration("chat.pongWait"),
			PingPeriod:      v.GetDuration("chat.pingPeriod"),
			MaxFrameSize:    v.GetInt64("chat.maxFrameSize"),
			StorageTimeout:  v.GetDuration("chat.storageTimeout"),
		},
	}
}

// NewTestConfig returns the config used by tests: in-memory storage, no Rollbar, small limits.
func NewTestConfig() *Config {
	conf := NewConfig()
	conf.Env = "TEST"
	conf.TestMode = true
	conf.Debug = false
	conf.Storage.Engine = EngineMemory
	conf.Server.RateLimit = 0
	conf.Chat.SendRate = 0
	return conf
}
