// Package config loads and watches the mirror configuration from the
// `mirror:` section of config.yaml.
//
// Load(path) applies defaults (http port 8080, reconnect 1s→60s, checkpoint
// backend none, interval 10s, level info, alert cooldown 15m) and validates. Secrets are named by
// environment variable (key_env) and resolved with Key(). Watch(ctx, path, fn)
// reloads the file with fsnotify.
package config
