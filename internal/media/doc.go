// Package media runs the audio and video player collaborators.
//
// Each Player supervises one external mpv process through
// internal/process and drives it over mpv's JSON IPC socket. Scene
// actions reach the player as opaque command strings; the grammar is
// owned here and the dispatcher never inspects it:
//
//	audio: PLAY:<file>[:<volume>]  STOP  STOP:<file>  PAUSE  RESUME  VOLUME:<v>
//	video: PLAY_VIDEO:<file>  PLAY:<file>  STOP_VIDEO  STOP  PAUSE  RESUME  SEEK:<s>
//
// File names resolve under the configured media directory and may not
// escape it. Natural end of playback is emitted on Events(); a file that
// is stopped or replaced emits nothing.
//
// Failure policy mirrors the broker client: a dead or restarting player
// makes commands fail fast with ErrNotReady, the dispatcher logs the
// drop, and the scene keeps running.
package media
