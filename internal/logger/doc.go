// Package logger wraps zap for both alarm binaries:
//   - a global sugared console logger with a shared atomic level,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - a floor option to quieten noisy third-party components.
//
// Services receive a context and log through the logger it carries.
package logger
