//go:build unix && !linux

package sandbox

// groupAlive reports whether group pgid still has members. Without /proc,
// unreaped zombies count as members.
func groupAlive(pgid int) bool {
	return groupSignalable(pgid)
}
