package models

type ServerConfig struct {
	Port           string `json:"port,omitzero" yaml:"port"`
	AllowedOrigins string `json:"allowed_origins,omitzero" yaml:"allowed_origins"`
	Environment    string `json:"environment,omitzero" yaml:"environment"`
	LogLevel       string `json:"log_level,omitzero" yaml:"log_level"`
	// AdminToken guards /admin. Empty disables the admin API.
	AdminToken string `json:"-" yaml:"admin_token"`
}

func (c ServerConfig) AdminEnabled() bool {
	return c.AdminToken != ""
}
