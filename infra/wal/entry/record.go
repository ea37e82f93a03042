package entry

// RecordType tags the payload of a record. The event log does not
// interpret it.
type RecordType uint8

// Record is one framed entry of the event log. Seq is the global offset.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, ts int64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: ts,
		Data: data,
	}
}
