// Provides platform-appropriate paths for the daemon.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS and Windows. The daemon name "wharfd" is used as the subdirectory
// under each base path. Runtime paths hold the socket and PID file; the
// cache path holds transient source checkouts.
package paths
