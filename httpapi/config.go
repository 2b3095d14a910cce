package httpapi

import "time"

// Config defines the privileged HTTP endpoint settings.
type Config struct {
	Addr string
	// ChannelToken, when set, must be presented in channel.TokenHeader.
	ChannelToken string
	PingInterval time.Duration
}
