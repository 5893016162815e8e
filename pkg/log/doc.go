/*
Package log provides structured logging for clustdock using zerolog.

It wraps a single global zerolog.Logger, configured once via Init, and
offers component/host/node child-logger helpers so every log line
carries enough context to trace a request across the dispatcher, a
worker, and the host driver it eventually calls into.
*/
package log
