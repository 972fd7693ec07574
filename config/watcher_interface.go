package config

// Watcher supplies the current config and pushes reloads to subscribers.
// Subscribe does not replay the current config.
type Watcher interface {
	GetCurrentConfig() *Config
	Subscribe() <-chan *Config
	Close() error
}
