package config

// LLMConfig configures the reasoning service used as the fallback classifier.
type LLMConfig struct {
	Provider string `yaml:"provider"` // none, openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`

	// Client-side rate limit shared by all keys.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Enabled reports whether a reasoning service is configured.
func (c LLMConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != "none" && c.APIKey != ""
}

// ModelOrDefault returns the configured model or the provider's default.
func (c LLMConfig) ModelOrDefault() string {
	if c.Model != "" {
		return c.Model
	}
	switch c.Provider {
	case "gemini":
		return "gemini-2.5-flash"
	case "openai":
		return "gpt-4o-mini"
	}
	return ""
}
