// Package logger builds the application's slog logger: JSON lines in
// production and a human-readable tint handler everywhere else.
package logger
