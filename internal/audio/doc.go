// Package audio holds the PCM plumbing shared with the audio devices.
//
// Queue is the hand-off point between a device callback and the session:
// capture pushes, the send loop drains everything; the decode pipeline pushes,
// playback reads a fixed amount. WriteWAV persists decoded audio at session end.
package audio
