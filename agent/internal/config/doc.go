// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Service, Reporter, Metrics, Log}: full config tree parsed from YAML
//   - ReporterConfig: server_urls, verify_server_cert, connect/read/write timeouts,
//     pool limits, flush_interval, buffer_size, auth
//   - AuthConfig: mode (secret_token|api_key|none) with secrets resolved from
//     environment variables by SecretToken() and APIKey()
//   - MetricsConfig: collection interval, extra Prometheus sources, /metrics address
//
// Load(path) reads the YAML file, applies defaults (verify on, 5s connect, 10s
// read/write, 5 idle / 16 max connections per host, 10s flush, 1000 buffer), then
// validates required fields, URLs and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create pattern
// used by atomic-save editors (vim, VS Code) by re-adding the watch after
// a rename event.
package config
