// Package process supervises external child processes for Showrunner.
//
// Two callers depend on it: internal/media runs the mpv player processes
// under a Manager each, and cmd/showwatch runs the showrunner daemon
// itself under one. The Manager starts the child in its own process
// group, captures its output into the log, restarts it on unexpected
// exit with exponential backoff, and enforces a sliding-window restart
// budget so a crash-looping child eventually parks in StatusGivenUp
// instead of flapping forever.
//
// Optional periodic health checks catch children that hang without
// exiting: after MaxHealthFailures consecutive failures the child is
// killed and the normal restart path takes over. A health check (or exit
// classification) may implement RecoverableError to mark a failure as
// permanent and skip restarting.
//
// Stop sends SIGTERM to the whole process group and escalates to SIGKILL
// after GracefulTimeout.
package process
