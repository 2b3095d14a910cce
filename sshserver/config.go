package sshserver

// Config defines SSH server settings.
type Config struct {
	Addr        string
	HostKeyPath string
	// PasswordHash is a bcrypt hash of the shared login secret. Empty accepts
	// any login.
	PasswordHash string
	Theme        string
}
