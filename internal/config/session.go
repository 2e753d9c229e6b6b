package config

// SessionConfig configures the pending-intent session store.
type SessionConfig struct {
	Backend   string      `yaml:"backend"` // memory, redis
	TTL       string      `yaml:"ttl"`
	Retention string      `yaml:"retention"`
	Redis     RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis keyed store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}
