/*
Package slice contains byte slice helpers.
*/
package slice

// Copy copies the byte slice into a new slice. Unlike builtin copy it
// allocates the destination of exactly the needed size.
func Copy(b []byte) []byte {
	d := make([]byte, len(b))
	copy(d, b)
	return d
}
