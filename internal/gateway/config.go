package gateway

import "time"

type Config struct {
	Addr         string        `envconfig:"HTTP_ADDR" default:":8080"`
	EventBuffer  int           `envconfig:"EVENT_BUFFER" default:"64"`
	WriteTimeout time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	PongWait     time.Duration `envconfig:"WS_PONG_WAIT" default:"60s"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	return c
}
