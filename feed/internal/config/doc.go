// Package config loads and watches the feed configuration.
//
// The feed reads the `feed:` section of config.yaml; the `mirror:` key in the
// same file is ignored.
//
//   - Config{Feed}: root, parsed from YAML
//   - FeedConfig: grpc_port, collection{name, path}, auth, send_buffer,
//     log_level
//   - AuthConfig: mode (apikey|none), key_env, header; Key() resolves the
//     expected key from the environment
//
// Load(path) applies defaults (port 50061, send buffer 256, level info) and
// validates ports, enums and the collection block. Watch(ctx, path, fn)
// reloads the file with fsnotify and hands every valid revision to fn.
package config
