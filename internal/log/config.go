package log

// Config bounds a Log's segments and fixes where a fresh Log starts
// numbering offsets from.
type Config struct {
	Segment struct {
		MaxStoreBytes uint64
		MaxIndexBytes uint64
		InitialOffset uint64
	}
}
